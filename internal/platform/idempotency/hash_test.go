package idempotency

import (
	"encoding/json"
	"testing"
)

func TestCanonicalizeJSON_SortsKeys(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{"b": 1, "a": {"y": [1, 2], "x": "s"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := CanonicalizeJSON([]byte(`{"a":{"x":"s","y":[1,2]},"b":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected equal canonical forms, got %s and %s", a, b)
	}
	if string(a) != `{"a":{"x":"s","y":[1,2]},"b":1}` {
		t.Errorf("unexpected canonical form %s", a)
	}
}

func TestCanonicalizeJSON_KeepsNumberLiterals(t *testing.T) {
	out, err := CanonicalizeJSON([]byte(`{"n": 12345678901234567890}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"n":12345678901234567890}` {
		t.Errorf("expected large number preserved, got %s", out)
	}
}

func TestCanonicalizeJSON_Invalid(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{"a":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestRequestHash(t *testing.T) {
	type body struct {
		SessionID string          `json:"sessionId"`
		Answers   json.RawMessage `json:"answers"`
	}

	h1, err := RequestHash(body{SessionID: "s1", Answers: json.RawMessage(`{"q1":"a","q2":3}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, _ := RequestHash(body{SessionID: "s1", Answers: json.RawMessage(`{"q2":3, "q1":"a"}`)})
	h3, _ := RequestHash(body{SessionID: "s1", Answers: json.RawMessage(`{"q1":"b","q2":3}`)})

	if h1 != h2 {
		t.Errorf("expected key order to be ignored, got %s and %s", h1, h2)
	}
	if h1 == h3 {
		t.Error("expected different answers to hash differently")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(h1))
	}
}

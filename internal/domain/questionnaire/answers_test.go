package questionnaire

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAnswers(t *testing.T) {
	m, err := ParseAnswers([]byte(`{"a":"texto","b":5,"c":["x","y"],"d":null,"e":""}`))
	if err != nil {
		t.Fatalf("parse answers: %v", err)
	}

	if got := m["a"].String(); got != "texto" {
		t.Errorf("expected texto, got %q", got)
	}
	if f, ok := m["b"].Float(); !ok || f != 5 {
		t.Errorf("expected number 5, got %v %v", f, ok)
	}
	if !m["c"].IsList() || len(m["c"].Elements()) != 2 {
		t.Errorf("expected list of 2, got %v", m["c"])
	}
	if m.Answered("d") {
		t.Error("expected null to be unanswered")
	}
	if m.Answered("e") {
		t.Error("expected empty string to be unanswered")
	}
	if m.Answered("missing") {
		t.Error("expected missing key to be unanswered")
	}
	if _, ok := m["e"]; !ok {
		t.Error("expected empty string key to be kept")
	}
}

func TestParseAnswers_Empty(t *testing.T) {
	m, err := ParseAnswers(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}

	m, err = ParseAnswers([]byte("null"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Error("expected non-nil map for null document")
	}
}

func TestParseAnswers_Invalid(t *testing.T) {
	docs := []string{
		`{"a":true}`,
		`{"a":{"b":1}}`,
		`{"a":[["x"]]}`,
		`["a"]`,
		`{"a":`,
	}
	for _, doc := range docs {
		if _, err := ParseAnswers([]byte(doc)); !errors.Is(err, ErrInvalidAnswers) {
			t.Errorf("ParseAnswers(%s): expected ErrInvalidAnswers, got %v", doc, err)
		}
	}
}

func TestAnswer_String(t *testing.T) {
	tests := []struct {
		answer Answer
		want   string
	}{
		{Text("abc"), "abc"},
		{Number(5), "5"},
		{Number(5.25), "5.25"},
		{Number(-1), "-1"},
		{List("a", "b"), "a,b"},
		{List(), ""},
		{Answer{}, "undefined"},
	}
	for _, tt := range tests {
		if got := tt.answer.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestAnswerMap_MarshalJSON(t *testing.T) {
	m := AnswerMap{"a": Text("x"), "b": Number(2), "c": List("p")}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":"x","b":2,"c":["p"]}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestRuleValue_String(t *testing.T) {
	if got := Equals("x").String(); got != "x" {
		t.Errorf("expected x, got %q", got)
	}
	if got := AnyOf("a", "b").String(); got != "a,b" {
		t.Errorf("expected a,b, got %q", got)
	}
	if got := (RuleValue{}).String(); got != "undefined" {
		t.Errorf("expected undefined, got %q", got)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{5, "5"},
		{2.5, "2.5"},
		{-1, "-1"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{1.5e-7, "1.5e-7"},
		{-2e-10, "-2e-10"},
		{123456789012345680000, "123456789012345680000"},
		{1e21, "1e+21"},
		{1.5e21, "1.5e+21"},
		{-1e21, "-1e+21"},
		{1e100, "1e+100"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnswer_StringLargeNumber(t *testing.T) {
	if got := Number(1e21).String(); got != "1e+21" {
		t.Errorf("expected 1e+21, got %q", got)
	}
}

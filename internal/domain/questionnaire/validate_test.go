package questionnaire

import (
	"errors"
	"testing"
)

func TestValidateAnswers(t *testing.T) {
	s := mustSchema(t, `{"questions":[
		{"id":"name","type":"text"},
		{"id":"age","type":"number"},
		{"id":"sex","type":"single","options":["F","M"]},
		{"id":"habits","type":"multiple","options":["fuma","bebe"]}
	]}`)

	tests := []struct {
		name    string
		answers AnswerMap
		wantErr bool
	}{
		{"valid", AnswerMap{"name": Text("Ana"), "age": Number(30), "sex": Text("F"), "habits": List("fuma")}, false},
		{"empty values skipped", AnswerMap{"name": Text(""), "age": Answer{}}, false},
		{"deepening id allowed", AnswerMap{"deepening.stress": Text("prazos")}, false},
		{"unknown question", AnswerMap{"other": Text("x")}, true},
		{"text given number", AnswerMap{"name": Number(1)}, true},
		{"number given text", AnswerMap{"age": Text("30")}, true},
		{"single not an option", AnswerMap{"sex": Text("X")}, true},
		{"single given list", AnswerMap{"sex": List("F")}, true},
		{"multiple given scalar", AnswerMap{"habits": Text("fuma")}, true},
		{"multiple unknown option", AnswerMap{"habits": List("fuma", "corre")}, true},
		{"deepening wrong kind", AnswerMap{"deepening.food_emotional": Text("Tédio")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswers(s, tt.answers)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAnswers) {
					t.Errorf("expected ErrInvalidAnswers, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

package questionnaire

import (
	"fmt"
	"sort"
)

// ValidateAnswers checks every answered value against the question it
// belongs to. Keys must name a schema question or a deepening question.
// Unanswered values are not checked.
func ValidateAnswers(s *Schema, answers AnswerMap) error {
	ids := make([]string, 0, len(answers))
	for id := range answers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		q, ok := s.Question(id)
		if !ok {
			q, ok = deepeningByID(id)
		}
		if !ok {
			return fmt.Errorf("%w: unknown question %q", ErrInvalidAnswers, id)
		}
		a := answers[id]
		if !a.IsAnswered() {
			continue
		}
		if err := checkKind(q, a); err != nil {
			return err
		}
	}
	return nil
}

func checkKind(q Question, a Answer) error {
	switch k := q.Kind.(type) {
	case TextKind:
		if a.kind != stringAnswer {
			return fmt.Errorf("%w: question %q expects text", ErrInvalidAnswers, q.ID)
		}
	case NumberKind:
		if a.kind != numberAnswer {
			return fmt.Errorf("%w: question %q expects a number", ErrInvalidAnswers, q.ID)
		}
	case SingleChoice:
		if a.kind != stringAnswer || !contains(k.Options, a.str) {
			return fmt.Errorf("%w: question %q expects one of its options", ErrInvalidAnswers, q.ID)
		}
	case MultipleChoice:
		if a.kind != listAnswer {
			return fmt.Errorf("%w: question %q expects a list of options", ErrInvalidAnswers, q.ID)
		}
		for _, item := range a.list {
			if !contains(k.Options, item) {
				return fmt.Errorf("%w: question %q has no option %q", ErrInvalidAnswers, q.ID, item)
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

package questionnaire

import "math"

// Decision is the outcome of a next-question evaluation.
type Decision struct {
	NextQuestion      *Question `json:"nextQuestion"`
	Reason            Reason    `json:"reason"`
	CompletionPercent int       `json:"completionPercent"`
}

// Completed reports whether nothing is left to ask.
func (d Decision) Completed() bool {
	return d.Reason == ReasonCompleted
}

// GetNextQuestion picks the next question for the answers collected so far.
// Authored questions come first, then deepening questions. It keeps no state
// between calls, so visibility changes caused by edited answers are always
// reflected.
func GetNextQuestion(s *Schema, answers AnswerMap) Decision {
	percent := CompletionPercent(s, answers)

	if q, reason := NextByRules(s, answers); q != nil {
		return Decision{NextQuestion: q, Reason: reason, CompletionPercent: percent}
	}

	if q := NextByHeuristic(s, answers); q != nil {
		return Decision{NextQuestion: q, Reason: ReasonHeuristicDeepen, CompletionPercent: percent}
	}

	return Decision{Reason: ReasonCompleted, CompletionPercent: 100}
}

// CompletionPercent is the rounded share of visible schema questions that
// are answered. Deepening questions are not counted. With no visible
// questions the questionnaire is complete.
func CompletionPercent(s *Schema, answers AnswerMap) int {
	var total, answered int
	for _, q := range s.Questions {
		if !ShouldShow(q, answers, s.ConditionalLogic) {
			continue
		}
		total++
		if answers.Answered(q.ID) {
			answered++
		}
	}
	if total == 0 {
		return 100
	}
	return int(math.Floor(float64(answered)/float64(total)*100 + 0.5))
}

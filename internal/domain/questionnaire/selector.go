package questionnaire

// Reason explains a next-question decision.
type Reason string

const (
	ReasonConditional     Reason = "conditional"
	ReasonHeuristicDeepen Reason = "heuristic_deepen"
	ReasonCompleted       Reason = "completed"
)

// NextByRules returns the first question in schema order that is unanswered
// and visible. Position is the only tie-break.
func NextByRules(s *Schema, answers AnswerMap) (*Question, Reason) {
	for _, q := range s.Questions {
		if answers.Answered(q.ID) {
			continue
		}
		if !ShouldShow(q, answers, s.ConditionalLogic) {
			continue
		}
		found := q
		return &found, ReasonConditional
	}
	return nil, ReasonCompleted
}

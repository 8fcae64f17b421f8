package questionnaire

// ShouldShow decides whether a question is visible for the given answers.
//
// The first rule whose ThenShow lists the question controls it. Without a
// rule the question's inline condition applies, and without either the
// question is always visible. The source question of a condition is used
// as-is, even when it is itself hidden.
func ShouldShow(q Question, answers AnswerMap, rules []VisibilityRule) bool {
	cond := conditionFor(q, rules)
	if cond == nil {
		return true
	}
	return cond.Matches(answers)
}

func conditionFor(q Question, rules []VisibilityRule) *Condition {
	for i := range rules {
		if rules[i].targets(q.ID) {
			return &rules[i].Condition
		}
	}
	return q.Condition
}

// Matches compares the answer to IfQuestion with IfValue using string
// coercion. A missing answer takes the string form "undefined".
func (c Condition) Matches(answers AnswerMap) bool {
	answer := answers[c.IfQuestion]

	if c.IfValue.IsList() {
		if answer.IsList() {
			for _, item := range answer.Elements() {
				if c.IfValue.contains(item) {
					return true
				}
			}
			return false
		}
		return c.IfValue.contains(answer.String())
	}

	return answer.String() == c.IfValue.String()
}

// VisibleQuestions returns the schema questions currently shown, in order.
func VisibleQuestions(s *Schema, answers AnswerMap) []Question {
	var out []Question
	for _, q := range s.Questions {
		if ShouldShow(q, answers, s.ConditionalLogic) {
			out = append(out, q)
		}
	}
	return out
}

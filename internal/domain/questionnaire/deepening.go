package questionnaire

// Topic tags in the order the heuristic inspects them.
const (
	TagStress        = "stress"
	TagSleep         = "sleep"
	TagFoodEmotional = "food_emotional"
)

var deepeningPriority = []string{TagStress, TagSleep, TagFoodEmotional}

// deepeningCatalog holds the supplementary questions injected by the
// heuristic. It is never mutated; lookups hand out copies.
var deepeningCatalog = map[string]Question{
	TagStress: {
		ID:   ReservedIDPrefix + TagStress,
		Text: "Você relatou um nível elevado de estresse. O que mais tem contribuído para isso nas últimas semanas?",
		Kind: TextKind{},
		Tags: []string{TagStress},
	},
	TagSleep: {
		ID:   ReservedIDPrefix + TagSleep,
		Text: "Conte um pouco mais sobre o seu sono: o que costuma atrapalhar o seu descanso?",
		Kind: TextKind{},
		Tags: []string{TagSleep},
	},
	TagFoodEmotional: {
		ID:   ReservedIDPrefix + TagFoodEmotional,
		Text: "Em quais situações você percebe que come por motivos emocionais?",
		Kind: MultipleChoice{Options: []string{"Ansiedade", "Tédio", "Tristeza", "Cansaço", "Comemorações"}},
		Tags: []string{TagFoodEmotional},
	},
}

// DeepeningQuestion returns a copy of the catalog question for a tag.
func DeepeningQuestion(tag string) (Question, bool) {
	q, ok := deepeningCatalog[tag]
	if !ok {
		return Question{}, false
	}
	return cloneQuestion(q), true
}

// IsDeepeningID reports whether id belongs to a catalog question.
func IsDeepeningID(id string) bool {
	for _, q := range deepeningCatalog {
		if q.ID == id {
			return true
		}
	}
	return false
}

func deepeningByID(id string) (Question, bool) {
	for _, q := range deepeningCatalog {
		if q.ID == id {
			return cloneQuestion(q), true
		}
	}
	return Question{}, false
}

func cloneQuestion(q Question) Question {
	q.Tags = append([]string(nil), q.Tags...)
	switch k := q.Kind.(type) {
	case SingleChoice:
		q.Kind = SingleChoice{Options: append([]string(nil), k.Options...)}
	case MultipleChoice:
		q.Kind = MultipleChoice{Options: append([]string(nil), k.Options...)}
	}
	return q
}

// Direction says which side of a numeric cutoff indicates risk.
type Direction int

const (
	HighIsBad Direction = iota + 1
	LowIsBad
)

// TriggerRule escalates a tagged question. Numeric rules fire at or beyond
// Cutoff in Direction; categorical rules fire on any of Matches.
type TriggerRule struct {
	Direction Direction
	Cutoff    float64
	Matches   []string
}

// Fires evaluates the rule against an answered value.
func (r TriggerRule) Fires(a Answer) bool {
	if !a.IsAnswered() {
		return false
	}
	if len(r.Matches) > 0 {
		if a.IsList() {
			for _, item := range a.Elements() {
				if r.matches(item) {
					return true
				}
			}
			return false
		}
		return r.matches(a.String())
	}

	v, ok := a.Float()
	if !ok {
		return false
	}
	switch r.Direction {
	case HighIsBad:
		return v >= r.Cutoff
	case LowIsBad:
		return v <= r.Cutoff
	}
	return false
}

func (r TriggerRule) matches(s string) bool {
	for _, m := range r.Matches {
		if m == s {
			return true
		}
	}
	return false
}

const (
	freqSometimes = "Às vezes"
	freqOften     = "Frequentemente"
	freqAlways    = "Sempre"
)

// triggers is keyed by template question id.
var triggers = map[string]TriggerRule{
	"stress_level":     {Direction: HighIsBad, Cutoff: 7},
	"stress_frequency": {Matches: []string{freqOften, freqAlways}},
	"anxiety_level":    {Direction: HighIsBad, Cutoff: 8},
	"sleep_quality":    {Direction: LowIsBad, Cutoff: 4},
	"sleep_hours":      {Direction: LowIsBad, Cutoff: 5},
	"sleep_difficulty": {Matches: []string{freqOften, freqAlways}},
	"emotional_eating": {Matches: []string{freqSometimes, freqOften, freqAlways}},
	"binge_frequency":  {Matches: []string{freqOften, freqAlways}},
}

// TriggerFor returns the escalation rule registered for a question id.
func TriggerFor(questionID string) (TriggerRule, bool) {
	r, ok := triggers[questionID]
	if !ok {
		return TriggerRule{}, false
	}
	r.Matches = append([]string(nil), r.Matches...)
	return r, true
}

// NextByHeuristic returns the deepening question of the first tag whose
// trigger fires on an answered schema question carrying that tag. Tags whose
// deepening question is already answered are skipped.
func NextByHeuristic(s *Schema, answers AnswerMap) *Question {
	for _, tag := range deepeningPriority {
		dq := deepeningCatalog[tag]
		if answers.Answered(dq.ID) {
			continue
		}
		for _, q := range s.Questions {
			if !q.HasTag(tag) {
				continue
			}
			answer := answers[q.ID]
			if !answer.IsAnswered() {
				continue
			}
			rule, ok := triggers[q.ID]
			if !ok {
				continue
			}
			if rule.Fires(answer) {
				out := cloneQuestion(dq)
				return &out
			}
		}
	}
	return nil
}

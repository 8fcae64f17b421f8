package questionnaire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ReservedIDPrefix marks question ids owned by the deepening catalog.
// Template questions may not use it.
const ReservedIDPrefix = "deepening."

var ErrInvalidSchema = errors.New("invalid schema")

// Schema is the static description of a questionnaire as stored on a template.
type Schema struct {
	Questions        []Question       `json:"questions"`
	ConditionalLogic []VisibilityRule `json:"conditionalLogic"`
	Tags             []string         `json:"tags"`
}

// Condition shows a question when the answer to IfQuestion matches IfValue.
type Condition struct {
	IfQuestion string    `json:"ifQuestion"`
	IfValue    RuleValue `json:"ifValue"`
}

// VisibilityRule applies its condition to every question listed in ThenShow.
type VisibilityRule struct {
	Condition
	ThenShow []string `json:"thenShow"`
}

func (r VisibilityRule) targets(questionID string) bool {
	for _, id := range r.ThenShow {
		if id == questionID {
			return true
		}
	}
	return false
}

// AnswerKind is the closed set of answer types a question can take.
type AnswerKind interface {
	typeName() string
	choices() []string
}

type TextKind struct{}

type NumberKind struct{}

type SingleChoice struct {
	Options []string
}

type MultipleChoice struct {
	Options []string
}

func (TextKind) typeName() string { return "text" }
func (TextKind) choices() []string { return nil }
func (NumberKind) typeName() string { return "number" }
func (NumberKind) choices() []string { return nil }
func (SingleChoice) typeName() string { return "single" }
func (k SingleChoice) choices() []string { return k.Options }
func (MultipleChoice) typeName() string { return "multiple" }
func (k MultipleChoice) choices() []string { return k.Options }

// KindFromType builds the answer kind for a wire type name.
func KindFromType(typ string, options []string) (AnswerKind, error) {
	switch typ {
	case "text", "number":
		if len(options) > 0 {
			return nil, fmt.Errorf("%w: type %q does not take options", ErrInvalidSchema, typ)
		}
		if typ == "text" {
			return TextKind{}, nil
		}
		return NumberKind{}, nil
	case "single", "multiple":
		if len(options) == 0 {
			return nil, fmt.Errorf("%w: type %q requires options", ErrInvalidSchema, typ)
		}
		opts := append([]string(nil), options...)
		if typ == "single" {
			return SingleChoice{Options: opts}, nil
		}
		return MultipleChoice{Options: opts}, nil
	default:
		return nil, fmt.Errorf("%w: unknown question type %q", ErrInvalidSchema, typ)
	}
}

// Question is one entry of a schema. Kind is never nil for a decoded question.
type Question struct {
	ID        string
	Text      string
	Kind      AnswerKind
	Required  bool
	Tags      []string
	Condition *Condition
}

// Type returns the wire name of the question's answer kind.
func (q Question) Type() string {
	if q.Kind == nil {
		return "text"
	}
	return q.Kind.typeName()
}

// Options returns the fixed choices of a single or multiple question.
func (q Question) Options() []string {
	if q.Kind == nil {
		return nil
	}
	return q.Kind.choices()
}

func (q Question) HasTag(tag string) bool {
	for _, t := range q.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type questionJSON struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Type      string     `json:"type"`
	Options   []string   `json:"options,omitempty"`
	Required  bool       `json:"required"`
	Tags      []string   `json:"tags,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

func (q Question) MarshalJSON() ([]byte, error) {
	return json.Marshal(questionJSON{
		ID:        q.ID,
		Text:      q.Text,
		Type:      q.Type(),
		Options:   q.Options(),
		Required:  q.Required,
		Tags:      q.Tags,
		Condition: q.Condition,
	})
}

func (q *Question) UnmarshalJSON(data []byte) error {
	var raw questionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	kind, err := KindFromType(raw.Type, raw.Options)
	if err != nil {
		return fmt.Errorf("question %q: %w", raw.ID, err)
	}
	*q = Question{
		ID:        raw.ID,
		Text:      raw.Text,
		Kind:      kind,
		Required:  raw.Required,
		Tags:      raw.Tags,
		Condition: raw.Condition,
	}
	return nil
}

// ParseSchema decodes and validates a schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		if errors.Is(err, ErrInvalidSchema) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks question ids and rule references.
func (s *Schema) Validate() error {
	ids := make(map[string]bool, len(s.Questions))
	for _, q := range s.Questions {
		switch {
		case q.ID == "":
			return fmt.Errorf("%w: question id is required", ErrInvalidSchema)
		case strings.HasPrefix(q.ID, ReservedIDPrefix):
			return fmt.Errorf("%w: question id %q uses reserved prefix %q", ErrInvalidSchema, q.ID, ReservedIDPrefix)
		case ids[q.ID]:
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidSchema, q.ID)
		case q.Kind == nil:
			return fmt.Errorf("%w: question %q has no type", ErrInvalidSchema, q.ID)
		}
		ids[q.ID] = true
	}
	for _, q := range s.Questions {
		if q.Condition != nil && q.Condition.IfQuestion == "" {
			return fmt.Errorf("%w: condition on %q has no ifQuestion", ErrInvalidSchema, q.ID)
		}
	}
	for i, r := range s.ConditionalLogic {
		if r.IfQuestion == "" {
			return fmt.Errorf("%w: rule %d has no ifQuestion", ErrInvalidSchema, i)
		}
		for _, id := range r.ThenShow {
			if !ids[id] {
				return fmt.Errorf("%w: rule %d shows unknown question %q", ErrInvalidSchema, i, id)
			}
		}
	}
	return nil
}

// Question returns the schema question with the given id.
func (s *Schema) Question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

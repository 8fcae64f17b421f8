package questionnaire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidAnswers = errors.New("invalid answers")

// undefinedString is the string form of a missing answer. Visibility rules
// compare against it literally.
const undefinedString = "undefined"

type answerKind uint8

const (
	absentAnswer answerKind = iota
	stringAnswer
	numberAnswer
	listAnswer
)

// Answer is a single answer value: a string, a number or a list of strings.
// The zero Answer is absent.
type Answer struct {
	kind answerKind
	str  string
	num  float64
	list []string
}

func Text(s string) Answer { return Answer{kind: stringAnswer, str: s} }
func Number(f float64) Answer { return Answer{kind: numberAnswer, num: f} }
func List(vs ...string) Answer { return Answer{kind: listAnswer, list: append([]string{}, vs...)} }

// IsAnswered reports whether the value counts as answered: present and not
// the empty string.
func (a Answer) IsAnswered() bool {
	switch a.kind {
	case absentAnswer:
		return false
	case stringAnswer:
		return a.str != ""
	default:
		return true
	}
}

func (a Answer) IsList() bool { return a.kind == listAnswer }

// Elements returns the items of a list answer.
func (a Answer) Elements() []string { return a.list }

// String returns the coerced string form used by condition matching.
func (a Answer) String() string {
	switch a.kind {
	case stringAnswer:
		return a.str
	case numberAnswer:
		return formatNumber(a.num)
	case listAnswer:
		return strings.Join(a.list, ",")
	default:
		return undefinedString
	}
}

// Float returns the numeric value of a number answer or of a string holding
// a number.
func (a Answer) Float() (float64, bool) {
	switch a.kind {
	case numberAnswer:
		return a.num, true
	case stringAnswer:
		s := strings.TrimSpace(a.str)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// formatNumber writes plain decimals inside [1e-6, 1e21) and the shortest
// exponent form outside it, e.g. "1e+21" or "1.5e-7".
func formatNumber(f float64) string {
	abs := math.Abs(f)
	if f == 0 || (abs >= 1e-6 && abs < 1e21) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	mantissa, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case stringAnswer:
		return json.Marshal(a.str)
	case numberAnswer:
		return json.Marshal(a.num)
	case listAnswer:
		if a.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.list)
	default:
		return []byte("null"), nil
	}
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}
	switch val := v.(type) {
	case string:
		*a = Text(val)
	case float64:
		*a = Number(val)
	case []interface{}:
		items, err := stringItems(val)
		if err != nil {
			return err
		}
		*a = List(items...)
	default:
		return fmt.Errorf("%w: unsupported answer value %s", ErrInvalidAnswers, string(data))
	}
	return nil
}

// stringItems accepts list entries that are strings or numbers.
func stringItems(vals []interface{}) ([]string, error) {
	out := make([]string, 0, len(vals))
	for _, item := range vals {
		switch it := item.(type) {
		case string:
			out = append(out, it)
		case float64:
			out = append(out, formatNumber(it))
		default:
			return nil, fmt.Errorf("%w: list answers must hold strings", ErrInvalidAnswers)
		}
	}
	return out, nil
}

// AnswerMap maps question ids to answers.
type AnswerMap map[string]Answer

// Answered reports whether the question id has an answered value.
func (m AnswerMap) Answered(id string) bool {
	return m[id].IsAnswered()
}

// ParseAnswers decodes a JSON object of answers. An empty document yields an
// empty map.
func ParseAnswers(data []byte) (AnswerMap, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return AnswerMap{}, nil
	}
	var m AnswerMap
	if err := json.Unmarshal(data, &m); err != nil {
		if errors.Is(err, ErrInvalidAnswers) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}
	if m == nil {
		m = AnswerMap{}
	}
	return m, nil
}

// RuleValue is the ifValue of a condition: a scalar or a set of accepted
// values. The zero value compares as a missing value.
type RuleValue struct {
	set    bool
	isList bool
	scalar string
	list   []string
}

func Equals(v string) RuleValue { return RuleValue{set: true, scalar: v} }

func AnyOf(vs ...string) RuleValue {
	return RuleValue{set: true, isList: true, list: append([]string{}, vs...)}
}

func (v RuleValue) IsList() bool { return v.isList }

// String returns the scalar form of the value.
func (v RuleValue) String() string {
	if !v.set {
		return undefinedString
	}
	if v.isList {
		return strings.Join(v.list, ",")
	}
	return v.scalar
}

func (v RuleValue) contains(s string) bool {
	for _, item := range v.list {
		if item == s {
			return true
		}
	}
	return false
}

func (v RuleValue) MarshalJSON() ([]byte, error) {
	switch {
	case !v.set:
		return []byte("null"), nil
	case v.isList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.scalar)
	}
}

func (v *RuleValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Equals("null")
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: ifValue: %v", ErrInvalidSchema, err)
	}
	switch val := raw.(type) {
	case string:
		*v = Equals(val)
	case float64:
		*v = Equals(formatNumber(val))
	case bool:
		*v = Equals(strconv.FormatBool(val))
	case []interface{}:
		items, err := stringItems(val)
		if err != nil {
			return fmt.Errorf("%w: ifValue must hold strings", ErrInvalidSchema)
		}
		*v = AnyOf(items...)
	default:
		return fmt.Errorf("%w: unsupported ifValue %s", ErrInvalidSchema, string(data))
	}
	return nil
}

// Package validation holds the stateless response rules of a questionnaire.
//
// The same functions gate navigation and the final pre-submit sweep, so a
// response accepted by one is accepted by the other.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/petrijr/questflow/pkg/api"
)

// Messages returned by the rule set.
const (
	MsgRequired         = "This question is required"
	MsgSelectAtLeastOne = "Please select at least one option"
	MsgInvalidNumber    = "Please enter a valid number"
	MsgInvalidDate      = "Please enter a valid date (YYYY-MM-DD)"
	MsgInvalidFormat    = "Please enter a value in the expected format"
)

// DateLayout is the accepted layout for date answers.
const DateLayout = "2006-01-02"

// IsEmpty reports whether v counts as "no answer yet" for a question of
// type t. Zero, false and (for non-text types) "" are answers.
//
//	boolean          empty unless the value is a bool
//	select, scale    empty only when null
//	multiselect      null or an empty list
//	text             null or ""
//	number           empty unless the value is a number
//	anything else    empty only when null
func IsEmpty(t api.QuestionType, v api.Value) bool {
	switch t {
	case api.TypeBoolean:
		return v.Kind() != api.KindBool
	case api.TypeSelect, api.TypeScale:
		return v.IsNull()
	case api.TypeMultiselect:
		return v.IsNull() || (v.Kind() == api.KindStrings && v.Len() == 0)
	case api.TypeText:
		if v.IsNull() {
			return true
		}
		s, ok := v.AsString()
		return ok && s == ""
	case api.TypeNumber:
		return v.Kind() != api.KindNumber
	default:
		return v.IsNull()
	}
}

// Rule checks a non-empty response against a question's constraints and
// returns "" when it is valid.
type Rule func(q api.Question, v api.Value) string

var rules = map[api.QuestionType]Rule{
	api.TypeNumber:      numberRule,
	api.TypeScale:       scaleRule,
	api.TypeText:        textRule,
	api.TypeMultiselect: multiselectRule,
	api.TypeDate:        dateRule,
}

// RuleFor returns the type-specific rule, or nil when the type has none.
func RuleFor(t api.QuestionType) Rule {
	return rules[t]
}

// Validate returns "" when v is an acceptable response to q, or a
// human-readable message describing the first failure.
//
// Required questions fail on empty values. Optional questions with empty
// values pass. Non-empty values are checked by the type's rule.
func Validate(q api.Question, v api.Value) string {
	if IsEmpty(q.Type, v) {
		if !q.Required {
			return ""
		}
		if q.Type == api.TypeMultiselect {
			return MsgSelectAtLeastOne
		}
		return MsgRequired
	}
	if rule := RuleFor(q.Type); rule != nil {
		return rule(q, v)
	}
	return ""
}

// Check is like Validate but returns a *api.ValidationError, or nil.
func Check(q api.Question, v api.Value) error {
	if msg := Validate(q, v); msg != "" {
		return &api.ValidationError{QuestionID: q.ID, Message: msg}
	}
	return nil
}

// FieldError is one failure found by ValidateAll.
type FieldError struct {
	QuestionID string
	Message    string
}

// ValidateAll checks every question against responses, in order, and
// returns every failure. It is meant for a final pre-submit sweep.
func ValidateAll(questions []api.Question, responses map[string]api.Value) []FieldError {
	var out []FieldError
	for _, q := range questions {
		if msg := Validate(q, responses[q.ID]); msg != "" {
			out = append(out, FieldError{QuestionID: q.ID, Message: msg})
		}
	}
	return out
}

func numberRule(q api.Question, v api.Value) string {
	n, ok := v.AsNumber()
	if !ok || n != n {
		return MsgInvalidNumber
	}
	return boundsRule(q.Validation, n)
}

func scaleRule(q api.Question, v api.Value) string {
	n, ok := v.AsNumber()
	if !ok {
		// Scales may also carry an option label; bounds only apply to numbers.
		return ""
	}
	return boundsRule(q.Validation, n)
}

func boundsRule(val api.Validation, n float64) string {
	if val.Min != nil && n < *val.Min {
		return fmt.Sprintf("Value must be at least %s", formatNumber(*val.Min))
	}
	if val.Max != nil && n > *val.Max {
		return fmt.Sprintf("Value must be at most %s", formatNumber(*val.Max))
	}
	return ""
}

func textRule(q api.Question, v api.Value) string {
	s, ok := v.AsString()
	if !ok {
		return MsgInvalidFormat
	}
	if minLen := q.Validation.MinLength; minLen != nil && len([]rune(s)) < *minLen {
		return fmt.Sprintf("Please enter at least %d characters", *minLen)
	}
	if q.Validation.Pattern != "" {
		re, err := compilePattern(q.Validation.Pattern)
		if err != nil || !re.MatchString(s) {
			return MsgInvalidFormat
		}
	}
	return ""
}

func multiselectRule(q api.Question, v api.Value) string {
	if v.Kind() != api.KindStrings {
		return MsgSelectAtLeastOne
	}
	if minItems := q.Validation.MinItems; minItems != nil && v.Len() < *minItems {
		if *minItems == 1 {
			return MsgSelectAtLeastOne
		}
		return fmt.Sprintf("Please select at least %d options", *minItems)
	}
	return ""
}

func dateRule(q api.Question, v api.Value) string {
	s, ok := v.AsString()
	if !ok {
		return MsgInvalidDate
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return MsgInvalidDate
	}
	return ""
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

var patternCache sync.Map // string -> *regexp.Regexp

func compilePattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

package api

// QuestionType selects the input kind and the validation rules of a question.
type QuestionType string

const (
	TypeText        QuestionType = "text"
	TypeNumber      QuestionType = "number"
	TypeSelect      QuestionType = "select"
	TypeMultiselect QuestionType = "multiselect"
	TypeBoolean     QuestionType = "boolean"
	TypeScale       QuestionType = "scale"
	TypeDate        QuestionType = "date"
)

// HighRiskWeight is the RiskWeight at or above which a question is
// treated as safety-critical.
const HighRiskWeight = 8

// Validation holds optional per-question constraints. Nil pointers mean
// "no constraint".
type Validation struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MinItems  *int     `json:"minItems,omitempty"`
}

// QuestionMetadata carries descriptive tags that influence navigation.
type QuestionMetadata struct {
	// ValidatedTool names a clinically standardized instrument (e.g. "PHQ-9").
	ValidatedTool string `json:"validatedTool,omitempty"`
}

// Question is a single item of a flow.
type Question struct {
	ID         string           `json:"id"`
	Type       QuestionType     `json:"type"`
	Text       string           `json:"text,omitempty"`
	Options    []string         `json:"options,omitempty"`
	Required   bool             `json:"required"`
	Validation Validation       `json:"validation"`
	RiskWeight *int             `json:"riskWeight,omitempty"`
	Metadata   QuestionMetadata `json:"metadata"`
}

// IsHighRisk reports whether the question is safety-critical.
func (q Question) IsHighRisk() bool {
	return q.RiskWeight != nil && *q.RiskWeight >= HighRiskWeight
}

// Section groups questions shown together.
type Section struct {
	ID        string
	Title     string
	Questions []Question
}

// FlowDefinition is an ordered list of sections.
type FlowDefinition struct {
	Name     string
	Version  string
	Sections []Section
}

// QuestionCount returns the total number of questions across all sections.
func (d FlowDefinition) QuestionCount() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Questions)
	}
	return n
}

// Questions returns every question in flow order.
func (d FlowDefinition) Questions() []Question {
	out := make([]Question, 0, d.QuestionCount())
	for _, s := range d.Sections {
		out = append(out, s.Questions...)
	}
	return out
}

// Ptr is a small helper for building Validation and RiskWeight literals.
func Ptr[T any](v T) *T { return &v }

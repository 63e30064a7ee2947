package questflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/petrijr/questflow/pkg/api"
)

// FlowBuilder provides a fluent API for defining questionnaires:
//
//	flow := questflow.New("intake").
//	    Version("2.1").
//	    Section("mood", phq1, phq2).
//	    Section("sleep", hours)
//
//	def, err := flow.Build()
type FlowBuilder struct {
	def api.FlowDefinition
}

// New creates a new flow builder with the given name.
func New(name string) *FlowBuilder {
	return &FlowBuilder{
		def: api.FlowDefinition{
			Name:     name,
			Sections: make([]api.Section, 0),
		},
	}
}

// Name returns the flow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

// Version sets the flow version recorded in session metadata.
func (b *FlowBuilder) Version(v string) *FlowBuilder {
	b.def.Version = v
	return b
}

// Section appends a section holding the given questions, in order.
func (b *FlowBuilder) Section(id string, questions ...Question) *FlowBuilder {
	return b.TitledSection(id, "", questions...)
}

// TitledSection is like Section but also records a display title.
func (b *FlowBuilder) TitledSection(id, title string, questions ...Question) *FlowBuilder {
	if id == "" {
		panic("questflow: section id must not be empty")
	}

	// Copy so callers can reuse their slice after the call.
	b.def.Sections = append(b.def.Sections, api.Section{
		ID:        id,
		Title:     title,
		Questions: slices.Clone(questions),
	})
	return b
}

// Definition returns the flow as built so far, without checking it.
func (b *FlowBuilder) Definition() FlowDefinition {
	def := b.def
	def.Sections = slices.Clone(b.def.Sections)
	return def
}

// Build checks the flow and returns its definition. A flow needs a name,
// at least one question, and question and section IDs that are unique and
// not empty.
func (b *FlowBuilder) Build() (FlowDefinition, error) {
	def := b.Definition()
	if def.Name == "" {
		return FlowDefinition{}, errors.New("questflow: flow name must not be empty")
	}
	if def.QuestionCount() == 0 {
		return FlowDefinition{}, fmt.Errorf("questflow: flow %q has no questions", def.Name)
	}

	sections := make(map[string]struct{}, len(def.Sections))
	questions := make(map[string]struct{}, def.QuestionCount())
	for _, s := range def.Sections {
		if _, dup := sections[s.ID]; dup {
			return FlowDefinition{}, fmt.Errorf("questflow: duplicate section %q", s.ID)
		}
		sections[s.ID] = struct{}{}

		for _, q := range s.Questions {
			if q.ID == "" {
				return FlowDefinition{}, fmt.Errorf("questflow: section %q has a question without id", s.ID)
			}
			if _, dup := questions[q.ID]; dup {
				return FlowDefinition{}, fmt.Errorf("questflow: duplicate question %q", q.ID)
			}
			questions[q.ID] = struct{}{}
		}
	}
	return def, nil
}

// MustBuild is like Build but panics on error.
// Useful for package-level flow definitions.
func (b *FlowBuilder) MustBuild() FlowDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

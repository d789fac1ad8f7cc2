// Package definition parses and validates declarative visa workflow documents.
package definition

import (
	"maps"

	"github.com/tbxark/visaflow/types"
)

type OverwritePolicy string

const (
	Overwritable     OverwritePolicy = "overwritable"
	ImmutableOnceSet OverwritePolicy = "immutable_once_set"
)

// StageKind is derived at load time from what a stage declares.
type StageKind string

const (
	DocumentStage StageKind = "documents"
	FieldStage    StageKind = "fields"
	MixedStage    StageKind = "mixed"
)

type Validation struct {
	Required  bool   `json:"required,omitempty"`
	MinLength *int   `json:"min_length,omitempty"`
	MaxLength *int   `json:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

type FieldSpec struct {
	Name             string                 `json:"name"`
	FieldType        string                 `json:"field_type"`
	Required         bool                   `json:"required"`
	ExtractionMethod types.ExtractionMethod `json:"extraction_method"`
	OverwritePolicy  OverwritePolicy        `json:"overwrite_policy"`
	Validation       Validation             `json:"validation"`
	Options          []string               `json:"options,omitempty"`
	PromptHint       string                 `json:"prompt_hint,omitempty"`
	DerivedFrom      string                 `json:"derived_from,omitempty"`
	Default          any                    `json:"default,omitempty"`
}

// IsRequired merges the field flag with the validation flag.
func (f FieldSpec) IsRequired() bool {
	return f.Required || f.Validation.Required
}

func (f FieldSpec) Immutable() bool {
	return f.OverwritePolicy == ImmutableOnceSet
}

type DocumentRequirement struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Extracts    []string `json:"extracts,omitempty"`
}

type Stage struct {
	ID          string                `json:"stage"`
	Title       string                `json:"stage_title"`
	Description string                `json:"stage_description,omitempty"`
	Kind        StageKind             `json:"kind"`
	Documents   []DocumentRequirement `json:"required_documents,omitempty"`
	Fields      []FieldSpec           `json:"fields,omitempty"`
}

func (s Stage) Document(docType string) (DocumentRequirement, bool) {
	for _, doc := range s.Documents {
		if doc.Type == docType {
			return doc, true
		}
	}
	return DocumentRequirement{}, false
}

func (s Stage) Field(name string) (FieldSpec, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldSpec{}, false
}

// AutoSkippable is true for stages the user never has to act on:
// no documents and no user_input fields.
func (s Stage) AutoSkippable() bool {
	if len(s.Documents) > 0 {
		return false
	}
	for _, field := range s.Fields {
		if field.ExtractionMethod.PromptsUser() {
			return false
		}
	}
	return true
}

// Definition is immutable once returned by the loader.
type Definition struct {
	VisaType      string         `json:"visa_type"`
	Version       string         `json:"version,omitempty"`
	Description   string         `json:"workflow_description,omitempty"`
	Stages        []Stage        `json:"collection_sequence"`
	DefaultValues map[string]any `json:"default_values,omitempty"`

	fieldIndex map[string]int
	extracted  map[string]bool
}

func (d *Definition) StageCount() int {
	return len(d.Stages)
}

// Stage returns the stage at index i; ok is false past the end of the sequence.
func (d *Definition) Stage(i int) (Stage, bool) {
	if i < 0 || i >= len(d.Stages) {
		return Stage{}, false
	}
	return d.Stages[i], true
}

// FieldByName looks a field up across every stage.
func (d *Definition) FieldByName(name string) (FieldSpec, int, bool) {
	idx, ok := d.fieldIndex[name]
	if !ok {
		return FieldSpec{}, -1, false
	}
	field, _ := d.Stages[idx].Field(name)
	return field, idx, true
}

// Extractable reports whether some document lists name in its extracts.
func (d *Definition) Extractable(name string) bool {
	return d.extracted[name]
}

// FieldNames lists every declared field, then every extract-only key, in declaration order.
func (d *Definition) FieldNames() []string {
	var names []string
	seen := map[string]bool{}
	for _, stage := range d.Stages {
		for _, field := range stage.Fields {
			if !seen[field.Name] {
				seen[field.Name] = true
				names = append(names, field.Name)
			}
		}
	}
	for _, stage := range d.Stages {
		for _, doc := range stage.Documents {
			for _, name := range doc.Extracts {
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
	}
	return names
}

func (d *Definition) Defaults() map[string]any {
	return maps.Clone(d.DefaultValues)
}

func (d *Definition) index() {
	d.fieldIndex = make(map[string]int)
	d.extracted = make(map[string]bool)
	for i, stage := range d.Stages {
		for _, field := range stage.Fields {
			if _, ok := d.fieldIndex[field.Name]; !ok {
				d.fieldIndex[field.Name] = i
			}
		}
		for _, doc := range stage.Documents {
			for _, name := range doc.Extracts {
				d.extracted[name] = true
			}
		}
	}
}

func stageKind(stage Stage) StageKind {
	switch {
	case len(stage.Documents) > 0 && len(stage.Fields) > 0:
		return MixedStage
	case len(stage.Documents) > 0:
		return DocumentStage
	default:
		return FieldStage
	}
}

// Package oracle defines the external extraction capabilities the workflow consumes and
// the wrappers that bound them in time.
package oracle

import (
	"context"
	"maps"

	"github.com/tbxark/visaflow/types"
)

// Document is an uploaded file handed to the document oracle.
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
	// Hints names the fields the workflow expects this document to provide.
	Hints []string
}

// StageContext is what the text oracle knows about the conversation.
type StageContext struct {
	StageID      string               `json:"stage_id"`
	StageTitle   string               `json:"stage_title"`
	Description  string               `json:"description,omitempty"`
	Fields       []types.FieldItem    `json:"fields"`
	Documents    []types.DocumentItem `json:"documents"`
	Collected    map[string]any       `json:"collected,omitempty"`
	Modifiable   []string             `json:"modifiable,omitempty"`
	LastQuestion string               `json:"last_question,omitempty"`
}

// NewStageContext builds the oracle view of the current stage. collected is copied.
func NewStageContext(req types.Requirements, collected map[string]any, modifiable []string) StageContext {
	return StageContext{
		StageID:     req.StageID,
		StageTitle:  req.StageTitle,
		Description: req.StageDescription,
		Fields:      req.Fields,
		Documents:   req.Documents,
		Collected:   maps.Clone(collected),
		Modifiable:  modifiable,
	}
}

// Interpretation is the text oracle's reading of one user message.
type Interpretation struct {
	Intent        types.Intent   `json:"intent"`
	Fields        map[string]any `json:"fields,omitempty"`
	StageComplete bool           `json:"stage_complete"`
}

type ExtractionOracle interface {
	ExtractFromDocument(ctx context.Context, docType string, doc Document) (map[string]any, error)
	InterpretUserText(ctx context.Context, text string, sc StageContext) (Interpretation, error)
}

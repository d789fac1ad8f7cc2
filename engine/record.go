package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/patch"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

// DocumentResult tells which extracted values were written and which were refused.
type DocumentResult struct {
	Applied  []string                 `json:"applied"`
	Skipped  []string                 `json:"skipped,omitempty"`
	Rejected []*types.ValidationError `json:"rejected,omitempty"`
}

// statusOps moves the session into in_progress and clears an interruption.
func statusOps(s *session.Session) []patch.Operation {
	var ops []patch.Operation
	switch s.Status {
	case types.StatusInitialized, types.StatusLoaded, types.StatusInterrupted:
		ops = append(ops, patch.Replace("/status", types.StatusInProgress))
	case types.StatusExported:
		ops = append(ops, patch.Replace("/status", types.StatusComplete))
	}
	if s.Interrupted {
		ops = append(ops, patch.Replace("/interrupted", false))
	}
	if s.DeviationContext != nil {
		ops = append(ops, patch.Remove("/deviation_context"))
	}
	return ops
}

// RecordDocument stores an extraction result for a document of the current stage and
// copies every non-empty extracted value named in the document's extracts.
func (e *Engine) RecordDocument(s *session.Session, def *definition.Definition, docType string, extraction map[string]any) (DocumentResult, error) {
	var result DocumentResult
	stage, ok := currentStage(s, def)
	if !ok {
		return result, fmt.Errorf("%w: %s: workflow has no open stage", types.ErrUnexpectedDocument, docType)
	}
	doc, ok := stage.Document(docType)
	if !ok {
		return result, fmt.Errorf("%w: %s is not requested in stage %s", types.ErrUnexpectedDocument, docType, stage.ID)
	}

	ops := []patch.Operation{
		patch.Add(patch.Pointer("uploaded_documents", doc.Type), session.UploadedDocument{
			Type:             doc.Type,
			UploadedAt:       e.now(),
			ExtractionResult: maps.Clone(extraction),
		}),
	}
	for _, name := range doc.Extracts {
		raw, ok := extraction[name]
		if !ok || session.IsEmpty(raw) {
			continue
		}
		value := raw
		if field, _, declared := def.FieldByName(name); declared {
			if field.Immutable() && s.Has(name) {
				result.Skipped = append(result.Skipped, name)
				continue
			}
			normalized, err := normalizeValue(field, raw)
			if err != nil {
				result.Rejected = append(result.Rejected, err.(*types.ValidationError))
				continue
			}
			value = normalized
		}
		if session.IsEmpty(value) {
			continue
		}
		ops = append(ops, patch.Add(patch.Pointer("collected_data", name), value))
		result.Applied = append(result.Applied, name)
	}
	ops = append(ops, statusOps(s)...)

	if err := e.apply(s, ops, dataPaths); err != nil {
		return DocumentResult{}, err
	}
	e.logger.Debug("Recorded document", "session", s.ID, "document", doc.Type, "applied", result.Applied, "rejected", len(result.Rejected))
	return result, nil
}

// RecordField writes one user-supplied value of the current stage.
func (e *Engine) RecordField(s *session.Session, def *definition.Definition, name string, value any) error {
	_, err := e.RecordFields(s, def, map[string]any{name: value}, true)
	return err
}

// RecordFields validates every value first and writes all of them or none. With strict
// unset, names that are not user_input fields of the current stage are ignored instead of rejected.
func (e *Engine) RecordFields(s *session.Session, def *definition.Definition, values map[string]any, strict bool) ([]string, error) {
	stage, ok := currentStage(s, def)
	if !ok {
		return nil, fmt.Errorf("%w: no open stage", types.ErrStageNotComplete)
	}

	var (
		issues  types.ValidationErrors
		ops     []patch.Operation
		applied []string
	)
	for _, name := range slices.Sorted(maps.Keys(values)) {
		field, ok := stage.Field(name)
		if !ok || !field.ExtractionMethod.PromptsUser() {
			if strict {
				issues = append(issues, &types.ValidationError{Field: name, Reason: "is not requested in the current stage"})
			}
			continue
		}
		if field.Immutable() && s.Has(name) {
			issues = append(issues, &types.ValidationError{Field: name, Reason: "is already set and cannot be changed"})
			continue
		}
		value, err := normalizeValue(field, values[name])
		if err != nil {
			issues = append(issues, err.(*types.ValidationError))
			continue
		}
		if value == nil {
			continue
		}
		ops = append(ops, patch.Add(patch.Pointer("collected_data", name), value))
		applied = append(applied, name)
	}
	if len(issues) == 1 {
		return nil, issues[0]
	}
	if len(issues) > 0 {
		return nil, issues
	}
	if len(ops) == 0 {
		return nil, nil
	}
	ops = append(ops, statusOps(s)...)
	if err := e.apply(s, ops, dataPaths); err != nil {
		return nil, err
	}
	e.logger.Debug("Recorded fields", "session", s.ID, "stage", stage.ID, "fields", applied)
	return applied, nil
}

// Modify overwrites a previously recorded value of any stage. The stage pointer never moves.
func (e *Engine) Modify(s *session.Session, def *definition.Definition, name string, value any) error {
	field, _, declared := def.FieldByName(name)
	if !declared && !def.Extractable(name) {
		return &types.ValidationError{Field: name, Reason: "is not a field of this application"}
	}
	if declared {
		if field.Immutable() && s.Has(name) {
			return &types.ValidationError{Field: name, Reason: "is already set and cannot be changed"}
		}
		normalized, err := normalizeValue(field, value)
		if err != nil {
			return err
		}
		value = normalized
	} else {
		normalized, err := normalizeValue(definition.FieldSpec{Name: name, Required: true}, value)
		if err != nil {
			return err
		}
		value = normalized
	}

	var ops []patch.Operation
	if value == nil {
		ops = append(ops, patch.Remove(patch.Pointer("collected_data", name)))
	} else {
		ops = append(ops, patch.Add(patch.Pointer("collected_data", name), value))
	}
	ops = append(ops, statusOps(s)...)
	if err := e.apply(s, ops, dataPaths); err != nil {
		return err
	}
	e.logger.Debug("Modified field", "session", s.ID, "field", name, "stage_index", s.CurrentStageIndex)
	return nil
}

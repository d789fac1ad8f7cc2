package engine

import (
	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

// Describe reports what the current stage still needs. It never mutates s.
func (e *Engine) Describe(s *session.Session, def *definition.Definition) types.Requirements {
	req := types.Requirements{
		StageIndex:  s.CurrentStageIndex,
		TotalStages: def.StageCount(),
		Documents:   []types.DocumentItem{},
		Fields:      []types.FieldItem{},
	}
	stage, ok := currentStage(s, def)
	if !ok {
		req.StageID = session.StageComplete
		req.Complete = true
		return req
	}
	req.StageID = stage.ID
	req.StageTitle = stage.Title
	req.StageDescription = stage.Description

	for _, doc := range stage.Documents {
		_, uploaded := s.UploadedDocuments[doc.Type]
		req.Documents = append(req.Documents, types.DocumentItem{
			Type:        doc.Type,
			Name:        doc.Name,
			Description: doc.Description,
			Extracts:    doc.Extracts,
			Required:    doc.Required,
			Satisfied:   uploaded,
		})
	}
	for _, field := range stage.Fields {
		if !field.ExtractionMethod.PromptsUser() {
			if field.IsRequired() && !s.Has(field.Name) {
				req.AwaitingDerivation = append(req.AwaitingDerivation, field.Name)
			}
			continue
		}
		req.Fields = append(req.Fields, types.FieldItem{
			Name:       field.Name,
			FieldType:  field.FieldType,
			PromptHint: field.PromptHint,
			Options:    field.Options,
			Required:   field.IsRequired(),
			Satisfied:  s.Has(field.Name),
		})
	}
	req.Complete = e.Evaluate(s, def).Complete
	return req
}

// Evaluate is a pure function of s: the current stage is complete when every required
// document is uploaded and every required field, whatever its extraction method, has a value.
func (e *Engine) Evaluate(s *session.Session, def *definition.Definition) types.Completion {
	stage, ok := currentStage(s, def)
	if !ok {
		return types.Completion{StageID: session.StageComplete, Complete: true}
	}
	var missing []types.MissingItem
	for _, doc := range stage.Documents {
		if !doc.Required {
			continue
		}
		if _, ok := s.UploadedDocuments[doc.Type]; !ok {
			missing = append(missing, types.MissingItem{Kind: types.MissingDocument, Name: doc.Type})
		}
	}
	for _, field := range stage.Fields {
		if field.IsRequired() && !s.Has(field.Name) {
			missing = append(missing, types.MissingItem{Kind: types.MissingField, Name: field.Name})
		}
	}
	return types.Completion{StageID: stage.ID, Complete: len(missing) == 0, Missing: missing}
}

type StageState string

const (
	StageCompleted  StageState = "completed"
	StageInProgress StageState = "in_progress"
	StagePending    StageState = "pending"
)

type StageProgress struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	State StageState `json:"state"`
}

// Progress is the whole-workflow status report.
type Progress struct {
	SessionID         string          `json:"session_id"`
	VisaType          string          `json:"visa_type"`
	Status            types.Status    `json:"status"`
	CurrentStage      string          `json:"current_stage"`
	StageIndex        int             `json:"stage_index"`
	TotalStages       int             `json:"total_stages"`
	CompletedStages   int             `json:"completed_stages"`
	Stages            []StageProgress `json:"stages"`
	CollectedFields   int             `json:"collected_fields"`
	UploadedDocuments int             `json:"uploaded_documents"`
	Interrupted       bool            `json:"interrupted"`
}

func (e *Engine) Progress(s *session.Session, def *definition.Definition) Progress {
	p := Progress{
		SessionID:         s.ID,
		VisaType:          s.VisaType,
		Status:            s.Status,
		CurrentStage:      s.StageID,
		StageIndex:        s.CurrentStageIndex,
		TotalStages:       def.StageCount(),
		UploadedDocuments: len(s.UploadedDocuments),
		Interrupted:       s.Interrupted,
	}
	for name := range s.CollectedData {
		if s.Has(name) {
			p.CollectedFields++
		}
	}
	for i, stage := range def.Stages {
		state := StagePending
		switch {
		case s.StageCompletion[stage.ID]:
			state = StageCompleted
			p.CompletedStages++
		case i == s.CurrentStageIndex && s.Status != types.StatusInitialized:
			state = StageInProgress
		}
		p.Stages = append(p.Stages, StageProgress{ID: stage.ID, Title: stage.Title, State: state})
	}
	return p
}

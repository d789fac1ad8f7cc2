// Package engine is the stage state machine. It derives every requirement from the
// workflow definition and mutates sessions only through allow-listed patches.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/patch"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

var (
	dataPaths = patch.AllowedPaths(
		"/collected_data/*",
		"/uploaded_documents/*",
		"/status",
		"/interrupted",
		"/deviation_context",
	)
	advancePaths = patch.AllowedPaths(
		"/collected_data/*",
		"/stage_completion/*",
		"/current_stage_index",
		"/stage_id",
		"/status",
	)
	interruptPaths = patch.AllowedPaths(
		"/interrupted",
		"/deviation_context",
		"/status",
	)
)

type Engine struct {
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) apply(s *session.Session, ops []patch.Operation, allowed patch.Allowed) error {
	if len(ops) == 0 {
		return nil
	}
	s.Normalize()
	next, err := patch.Apply(*s, ops, allowed)
	if err != nil {
		return fmt.Errorf("apply session patch: %w", err)
	}
	*s = next
	e.logger.Debug("Applied patch", "session", s.ID, "ops", ops)
	return nil
}

func currentStage(s *session.Session, def *definition.Definition) (definition.Stage, bool) {
	return def.Stage(s.CurrentStageIndex)
}

// Start moves a new session into the first stage. It returns the stages that were
// completed on entry. Calling it on a started session is a no-op.
func (e *Engine) Start(s *session.Session, def *definition.Definition) ([]string, error) {
	if s.Status != types.StatusInitialized {
		return nil, nil
	}
	first, ok := def.Stage(0)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no stages", types.ErrDefinitionMalformed, def.VisaType)
	}
	ops := []patch.Operation{
		patch.Replace("/current_stage_index", 0),
		patch.Replace("/stage_id", first.ID),
		patch.Replace("/status", types.StatusLoaded),
	}
	ops = append(ops, e.materialize(s, def, first)...)
	if err := e.apply(s, ops, advancePaths); err != nil {
		return nil, err
	}
	e.logger.Debug("Started workflow", "session", s.ID, "visa_type", def.VisaType, "stage", first.ID)
	return e.settle(s, def)
}

// Advance completes the current stage and enters the next one. It never moves more
// than one stage.
func (e *Engine) Advance(s *session.Session, def *definition.Definition) error {
	stage, ok := currentStage(s, def)
	if !ok {
		return fmt.Errorf("%w: no stage left to advance", types.ErrStageNotComplete)
	}
	completion := e.Evaluate(s, def)
	if !completion.Complete {
		return &types.IncompleteError{StageID: stage.ID, Missing: completion.Missing}
	}

	nextIndex := s.CurrentStageIndex + 1
	ops := []patch.Operation{
		patch.Add(patch.Pointer("stage_completion", stage.ID), true),
		patch.Replace("/current_stage_index", nextIndex),
	}
	if next, ok := def.Stage(nextIndex); ok {
		status := s.Status
		if status == types.StatusLoaded || status == types.StatusInitialized {
			status = types.StatusInProgress
		}
		ops = append(ops,
			patch.Replace("/stage_id", next.ID),
			patch.Replace("/status", status),
		)
		ops = append(ops, e.materialize(s, def, next)...)
	} else {
		ops = append(ops,
			patch.Replace("/stage_id", session.StageComplete),
			patch.Replace("/status", types.StatusComplete),
		)
	}
	if err := e.apply(s, ops, advancePaths); err != nil {
		return err
	}
	e.logger.Debug("Advanced stage", "session", s.ID, "completed", stage.ID, "stage", s.StageID)
	return nil
}

// AdvanceIfComplete advances past the current stage when it is complete and then
// keeps advancing through entered stages that have nothing left to ask.
func (e *Engine) AdvanceIfComplete(s *session.Session, def *definition.Definition) ([]string, error) {
	stage, ok := currentStage(s, def)
	if !ok || !e.Evaluate(s, def).Complete {
		return nil, nil
	}
	if err := e.Advance(s, def); err != nil {
		return nil, err
	}
	more, err := e.settle(s, def)
	return append([]string{stage.ID}, more...), err
}

// settle applies the auto-skip rule to the stage just entered, repeatedly.
func (e *Engine) settle(s *session.Session, def *definition.Definition) ([]string, error) {
	var advanced []string
	for {
		stage, ok := currentStage(s, def)
		if !ok || !e.nothingToAsk(s, stage) || !e.Evaluate(s, def).Complete {
			return advanced, nil
		}
		if err := e.Advance(s, def); err != nil {
			return advanced, err
		}
		e.logger.Debug("Auto-skipped stage", "session", s.ID, "stage", stage.ID)
		advanced = append(advanced, stage.ID)
	}
}

// nothingToAsk is true when the stage has no document to upload and no user_input
// field without a value, optional ones included.
func (e *Engine) nothingToAsk(s *session.Session, stage definition.Stage) bool {
	if stage.AutoSkippable() {
		return true
	}
	if stage.Kind != definition.FieldStage {
		for _, doc := range stage.Documents {
			if _, ok := s.UploadedDocuments[doc.Type]; !ok {
				return false
			}
		}
	}
	if stage.Kind != definition.DocumentStage {
		for _, field := range stage.Fields {
			if field.ExtractionMethod.PromptsUser() && !s.Has(field.Name) {
				return false
			}
		}
	}
	return true
}

// materialize fills derivable values of stage that are not collected yet.
func (e *Engine) materialize(s *session.Session, def *definition.Definition, stage definition.Stage) []patch.Operation {
	var ops []patch.Operation
	handoff := s.Handoff.Map()
	for _, field := range stage.Fields {
		if s.Has(field.Name) {
			continue
		}
		var value any
		switch field.ExtractionMethod {
		case types.ExtractionDerivedField:
			if v, ok := s.CollectedData[field.DerivedFrom]; ok && !session.IsEmpty(v) {
				value = v
			} else {
				value = handoff[field.DerivedFrom]
			}
		case types.ExtractionAccountDerived:
			key := field.DerivedFrom
			if key == "" {
				key = field.Name
			}
			value = handoff[key]
		case types.ExtractionPreSelected:
			if field.Default != nil {
				value = field.Default
			} else if len(field.Options) == 1 {
				value = field.Options[0]
			}
		default:
			continue
		}
		if session.IsEmpty(value) {
			e.logger.Debug("Derived value unavailable", "session", s.ID, "field", field.Name, "method", field.ExtractionMethod)
			continue
		}
		ops = append(ops, patch.Add(patch.Pointer("collected_data", field.Name), value))
	}
	return ops
}

// Package visaflow routes conversational events into the stage engine of a visa
// application workflow.
package visaflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/google/uuid"

	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/engine"
	"github.com/tbxark/visaflow/intent"
	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/output"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

type Router struct {
	store      session.Store
	loader     *definition.Loader
	oracle     oracle.ExtractionOracle
	recognizer intent.Recognizer
	engine     *engine.Engine
	assembler  *output.Assembler
	logger     *slog.Logger
}

type Option func(*Router)

func WithRecognizer(recognizer intent.Recognizer) Option {
	return func(r *Router) {
		r.recognizer = recognizer
	}
}

func WithEngine(e *engine.Engine) Option {
	return func(r *Router) {
		r.engine = e
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithAssembler(a *output.Assembler) Option {
	return func(r *Router) {
		r.assembler = a
	}
}

// NewRouter wires the router. Without WithRecognizer, text is classified by the oracle.
func NewRouter(store session.Store, loader *definition.Loader, o oracle.ExtractionOracle, opts ...Option) *Router {
	r := &Router{
		store:  store,
		loader: loader,
		oracle: o,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.recognizer == nil {
		r.recognizer = intent.NewOracleRecognizer(o)
	}
	if r.engine == nil {
		r.engine = engine.New(engine.WithLogger(r.logger))
	}
	if r.assembler == nil {
		r.assembler = output.NewAssembler()
	}
	return r
}

// Open creates a session from the handoff and enters the first stage. An empty id
// gets a generated one.
func (r *Router) Open(ctx context.Context, id string, handoff session.HandoffData) (*Response, error) {
	if strings.TrimSpace(handoff.VisaType) == "" {
		return nil, &types.ValidationError{Field: "visa_type", Reason: "is required"}
	}
	def, err := r.loader.Load(handoff.VisaType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, err = r.store.Create(ctx, id, handoff); err != nil {
		return nil, err
	}
	var advanced []string
	s, err := r.store.Update(ctx, id, func(s *session.Session) error {
		var sErr error
		advanced, sErr = r.engine.Start(s, def)
		return sErr
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Opened session", "session", id, "visa_type", def.VisaType, "stage", s.StageID)
	resp := r.respond(s, def, OutcomeOK)
	resp.Advanced = advanced
	return resp, nil
}

// Handle processes one event to completion. Only missing sessions, definition errors,
// persistence failures and lock timeouts are returned as errors.
func (r *Router) Handle(ctx context.Context, ev Event) (resp *Response, err error) {
	ctx = callbacks.EnsureRunInfo(ctx, "IntentRouter", "Router")
	ctx = callbacks.OnStart(ctx, map[string]any{
		"session_id": ev.SessionID,
		"kind":       string(ev.Kind),
		"intent":     string(ev.Intent),
	})
	defer func() {
		if rec := recover(); rec != nil {
			callbacks.OnError(ctx, fmt.Errorf("panic in Router.Handle: %v", rec))
			panic(rec)
		}
	}()

	resp, err = r.handle(ctx, ev)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	callbacks.OnEnd(ctx, map[string]any{
		"response": resp,
		"outcome":  string(resp.Outcome),
		"status":   string(resp.Status),
	})
	return resp, nil
}

func (r *Router) handle(ctx context.Context, ev Event) (*Response, error) {
	current, err := r.store.Get(ctx, ev.SessionID)
	if err != nil {
		return nil, err
	}
	def, err := r.loader.Load(current.VisaType)
	if err != nil {
		return nil, err
	}

	var d dispatch
	s, err := r.store.Update(ctx, ev.SessionID, func(s *session.Session) error {
		d = dispatch{}
		return r.dispatch(ctx, s, def, ev, &d)
	})
	if err == nil {
		outcome := OutcomeOK
		if s.Status.IsComplete() {
			outcome = OutcomeCompleted
		}
		resp := r.respond(s, def, outcome)
		resp.Intent = d.intent
		resp.Applied = d.applied
		resp.Advanced = d.advanced
		resp.Issues = d.issues
		r.logger.Debug("Handled event", "session", s.ID, "intent", d.intent, "stage", s.StageID, "applied", d.applied, "advanced", d.advanced)
		return resp, nil
	}
	if s == nil {
		return nil, err
	}
	return r.translate(s, def, d.intent, err)
}

// translate turns a failed dispatch into a user-safe response. s is the unchanged session.
func (r *Router) translate(s *session.Session, def *definition.Definition, in types.Intent, err error) (*Response, error) {
	var resp *Response
	switch types.CategoryOf(err) {
	case types.CategoryDefinition:
		return nil, err
	case types.CategoryInput:
		if errors.Is(err, types.ErrUnexpectedDocument) {
			resp = r.respond(s, def, OutcomeUnexpectedDocument)
		} else {
			resp = r.respond(s, def, OutcomeValidationFailed)
			resp.Issues = types.FieldIssues(err)
		}
		r.logger.Debug("Rejected event input", "session", s.ID, "error", err)
	case types.CategoryOracle:
		resp = r.respond(s, def, OutcomeRetry)
		resp.Message = retryMessage
		r.logger.Warn("Oracle unavailable, asking for retry", "session", s.ID, "error", err)
	case types.CategoryState:
		resp = r.respond(s, def, OutcomeContinue)
		resp.Message = continueMessage
		r.logger.Debug("State error translated", "session", s.ID, "error", err)
	default:
		if errors.Is(err, types.ErrPersistence) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		resp = r.respond(s, def, OutcomeContinue)
		resp.Message = continueMessage
		r.logger.Error("Unexpected dispatch failure", "session", s.ID, "error", err)
	}
	resp.Intent = in
	return resp, nil
}

type dispatch struct {
	intent   types.Intent
	applied  []string
	advanced []string
	issues   []*types.ValidationError
}

func (r *Router) dispatch(ctx context.Context, s *session.Session, def *definition.Definition, ev Event, d *dispatch) error {
	if s.Status == types.StatusInitialized {
		advanced, err := r.engine.Start(s, def)
		if err != nil {
			return err
		}
		d.advanced = append(d.advanced, advanced...)
	}

	switch ev.Kind {
	case EventDocument:
		d.intent = types.IntentDocumentProcessed
		return r.onDocument(ctx, s, def, ev, d)
	case EventSignal:
		d.intent = ev.Intent
		if !d.intent.Valid() {
			r.logger.Warn("Unknown intent signal, treating as progress", "session", s.ID, "intent", ev.Intent)
			d.intent = types.IntentProgress
		}
		if d.intent == types.IntentDocumentProcessed {
			return r.onDocument(ctx, s, def, ev, d)
		}
		return r.apply(s, def, d, ev.Text, ev.Fields)
	case EventText, "":
		c, err := r.classify(ctx, s, def, ev.Text)
		if err != nil {
			return err
		}
		d.intent = c.Intent
		return r.apply(s, def, d, ev.Text, c.Fields)
	default:
		return &types.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown event kind %q", ev.Kind)}
	}
}

// classify asks the recognizer for the intent of text. Timeouts surface so the caller
// retries; any other failure falls back to progress with no values.
func (r *Router) classify(ctx context.Context, s *session.Session, def *definition.Definition, text string) (intent.Classification, error) {
	req := r.engine.Describe(s, def)
	sc := oracle.NewStageContext(req, s.CollectedData, def.FieldNames())
	sc.LastQuestion = engine.Summary(req)
	if s.DeviationContext != nil && s.DeviationContext.LastQuestion != "" {
		sc.LastQuestion = s.DeviationContext.LastQuestion
	}

	c, err := r.recognizer.RecognizeIntent(ctx, &intent.Request{
		Text:        text,
		Context:     sc,
		Interrupted: s.Interrupted,
	})
	if err != nil {
		if errors.Is(err, types.ErrOracleTimeout) {
			return c, err
		}
		r.logger.Warn("Intent classification failed, defaulting to progress", "session", s.ID, "error", err)
		return intent.Classification{Intent: types.IntentProgress}, nil
	}
	if !c.Intent.Valid() || c.Intent == types.IntentDocumentProcessed {
		r.logger.Warn("Recognizer returned unusable intent, defaulting to progress", "session", s.ID, "intent", c.Intent)
		c.Intent = types.IntentProgress
	}
	r.logger.Debug("Classified event", "session", s.ID, "intent", c.Intent, "fields", slices.Sorted(maps.Keys(c.Fields)))
	return c, nil
}

func (r *Router) apply(s *session.Session, def *definition.Definition, d *dispatch, text string, fields map[string]any) error {
	switch d.intent {
	case types.IntentDeviation:
		return r.engine.Interrupt(s, def, text)
	case types.IntentResume:
		return r.engine.Resume(s)
	case types.IntentModification:
		return r.modify(s, def, d, fields)
	default:
		return r.progress(s, def, d, fields)
	}
}

func (r *Router) progress(s *session.Session, def *definition.Definition, d *dispatch, fields map[string]any) error {
	if s.Status.IsComplete() {
		return nil
	}
	if s.Interrupted {
		if err := r.engine.Resume(s); err != nil {
			return err
		}
	}
	applied, err := r.engine.RecordFields(s, def, fields, false)
	if err != nil {
		return err
	}
	d.applied = applied
	return r.advance(s, def, d)
}

func (r *Router) modify(s *session.Session, def *definition.Definition, d *dispatch, fields map[string]any) error {
	var issues types.ValidationErrors
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		if err := r.engine.Modify(s, def, name, fields[name]); err != nil {
			found := types.FieldIssues(err)
			if len(found) == 0 {
				return err
			}
			issues = append(issues, found...)
			continue
		}
		d.applied = append(d.applied, name)
	}
	if len(issues) > 0 {
		return issues
	}
	// the stage pointer stays put; a later progress or document event advances
	if s.Interrupted {
		return r.engine.Resume(s)
	}
	return nil
}

func (r *Router) onDocument(ctx context.Context, s *session.Session, def *definition.Definition, ev Event, d *dispatch) error {
	stage, ok := def.Stage(s.CurrentStageIndex)
	if !ok {
		return fmt.Errorf("%w: %s: workflow is complete", types.ErrUnexpectedDocument, ev.DocumentType)
	}
	doc, ok := stage.Document(ev.DocumentType)
	if !ok {
		return fmt.Errorf("%w: %s is not requested in stage %s", types.ErrUnexpectedDocument, ev.DocumentType, stage.ID)
	}

	extraction := ev.Extraction
	if extraction == nil {
		if ev.Document == nil {
			return &types.ValidationError{Field: doc.Type, Reason: "no file was attached"}
		}
		file := *ev.Document
		file.Hints = doc.Extracts
		var err error
		extraction, err = r.oracle.ExtractFromDocument(ctx, doc.Type, file)
		if err != nil {
			return err
		}
	}

	result, err := r.engine.RecordDocument(s, def, doc.Type, extraction)
	if err != nil {
		return err
	}
	d.applied = result.Applied
	d.issues = result.Rejected
	return r.advance(s, def, d)
}

func (r *Router) advance(s *session.Session, def *definition.Definition, d *dispatch) error {
	advanced, err := r.engine.AdvanceIfComplete(s, def)
	if err != nil {
		return err
	}
	d.advanced = append(d.advanced, advanced...)
	return nil
}

func (r *Router) respond(s *session.Session, def *definition.Definition, outcome Outcome) *Response {
	return &Response{
		SessionID:        s.ID,
		Outcome:          outcome,
		Status:           s.Status,
		Requirements:     r.engine.Describe(s, def),
		Interrupted:      s.Interrupted,
		DeviationContext: s.DeviationContext,
	}
}

// Session returns a copy of the session.
func (r *Router) Session(ctx context.Context, id string) (*session.Session, error) {
	return r.store.Get(ctx, id)
}

func (r *Router) Requirements(ctx context.Context, id string) (types.Requirements, error) {
	s, def, err := r.load(ctx, id)
	if err != nil {
		return types.Requirements{}, err
	}
	return r.engine.Describe(s, def), nil
}

func (r *Router) Progress(ctx context.Context, id string) (engine.Progress, error) {
	s, def, err := r.load(ctx, id)
	if err != nil {
		return engine.Progress{}, err
	}
	return r.engine.Progress(s, def), nil
}

// Export assembles the final payload and marks the session exported. Exporting again
// yields the same payload.
func (r *Router) Export(ctx context.Context, id string) (*output.Payload, error) {
	current, def, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == types.StatusExported {
		return r.assembler.Assemble(current, current.Handoff, def)
	}
	var payload *output.Payload
	_, err = r.store.Update(ctx, current.ID, func(s *session.Session) error {
		var aErr error
		payload, aErr = r.assembler.Assemble(s, s.Handoff, def)
		if aErr != nil {
			return aErr
		}
		if s.Status == types.StatusExported {
			return nil
		}
		return r.engine.MarkExported(s)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Exported session", "session", id, "fields", len(payload.Fields))
	return payload, nil
}

// Close removes the session from the store and its persisted records.
func (r *Router) Close(ctx context.Context, id string) error {
	return r.store.Remove(ctx, id)
}

func (r *Router) load(ctx context.Context, id string) (*session.Session, *definition.Definition, error) {
	s, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	def, err := r.loader.Load(s.VisaType)
	if err != nil {
		return nil, nil, err
	}
	return s, def, nil
}

func (r *Router) VisaTypes() []string {
	return r.loader.VisaTypes()
}

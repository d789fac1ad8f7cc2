package engine

import (
	"fmt"
	"strings"

	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/patch"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

// Interrupt records a deviation. Collected data, documents and the stage pointer are untouched.
func (e *Engine) Interrupt(s *session.Session, def *definition.Definition, userMessage string) error {
	dc := session.DeviationContext{
		StageAtInterruption: s.StageID,
		LastQuestion:        Summary(e.Describe(s, def)),
		UserMessage:         userMessage,
	}
	// a second deviation keeps the original context
	if s.Interrupted && s.DeviationContext != nil {
		dc.StageAtInterruption = s.DeviationContext.StageAtInterruption
		dc.LastQuestion = s.DeviationContext.LastQuestion
	}
	ops := []patch.Operation{
		patch.Replace("/interrupted", true),
		patch.Add("/deviation_context", dc),
	}
	if !s.Status.IsComplete() {
		ops = append(ops, patch.Replace("/status", types.StatusInterrupted))
	}
	if err := e.apply(s, ops, interruptPaths); err != nil {
		return err
	}
	e.logger.Debug("Session interrupted", "session", s.ID, "stage", dc.StageAtInterruption)
	return nil
}

// Resume clears the interruption. It is a no-op on a session that is not interrupted.
func (e *Engine) Resume(s *session.Session) error {
	if !s.Interrupted && s.DeviationContext == nil && s.Status != types.StatusInterrupted {
		return nil
	}
	ops := []patch.Operation{
		patch.Replace("/interrupted", false),
		patch.Remove("/deviation_context"),
	}
	if s.Status == types.StatusInterrupted {
		ops = append(ops, patch.Replace("/status", types.StatusInProgress))
	}
	if err := e.apply(s, ops, interruptPaths); err != nil {
		return err
	}
	e.logger.Debug("Session resumed", "session", s.ID, "stage", s.StageID)
	return nil
}

// MarkExported records that the final payload was produced.
func (e *Engine) MarkExported(s *session.Session) error {
	if !s.Status.IsComplete() {
		return fmt.Errorf("%w: %s is %s", types.ErrWorkflowNotComplete, s.ID, s.Status)
	}
	return e.apply(s, []patch.Operation{patch.Replace("/status", types.StatusExported)}, interruptPaths)
}

// Summary is a one-line restatement of what the stage still needs.
func Summary(req types.Requirements) string {
	if req.StageID == session.StageComplete {
		return "all stages complete"
	}
	var items []string
	for _, doc := range req.OutstandingDocuments() {
		items = append(items, doc.Name)
	}
	for _, field := range req.OutstandingFields() {
		items = append(items, field.Name)
	}
	title := req.StageTitle
	if title == "" {
		title = req.StageID
	}
	if len(items) == 0 {
		return title
	}
	return title + ": " + strings.Join(items, ", ")
}

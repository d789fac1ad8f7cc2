package visaflow

import (
	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

type EventKind string

const (
	// EventText is a free-text user message; its intent is classified.
	EventText EventKind = "text"
	// EventDocument is an uploaded document of the current stage.
	EventDocument EventKind = "document"
	// EventSignal carries an explicit intent chosen by the caller.
	EventSignal EventKind = "signal"
)

// Event is one inbound turn for a session.
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`

	DocumentType string           `json:"document_type,omitempty"`
	Document     *oracle.Document `json:"-"`
	// Extraction skips the document oracle when the caller already has the values.
	Extraction map[string]any `json:"extraction,omitempty"`

	Intent types.Intent   `json:"intent,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Outcome string

const (
	OutcomeOK                 Outcome = "ok"
	OutcomeValidationFailed   Outcome = "validation_failed"
	OutcomeUnexpectedDocument Outcome = "unexpected_document"
	OutcomeRetry              Outcome = "retry"
	OutcomeContinue           Outcome = "continue"
	OutcomeCompleted          Outcome = "completed"
)

const (
	retryMessage    = "Sorry, that took longer than expected. Please send it again."
	continueMessage = "Let's continue."
)

// Response never carries raw error text; Issues name the rejected items.
type Response struct {
	SessionID        string                    `json:"session_id"`
	Intent           types.Intent              `json:"intent,omitempty"`
	Outcome          Outcome                   `json:"outcome"`
	Status           types.Status              `json:"status"`
	Requirements     types.Requirements        `json:"requirements"`
	Issues           []*types.ValidationError  `json:"issues,omitempty"`
	Applied          []string                  `json:"applied,omitempty"`
	Advanced         []string                  `json:"advanced,omitempty"`
	Interrupted      bool                      `json:"interrupted"`
	DeviationContext *session.DeviationContext `json:"deviation_context,omitempty"`
	Message          string                    `json:"message,omitempty"`
}

package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDefinitionNotFound   = errors.New("visaflow: workflow definition not found")
	ErrDefinitionMalformed  = errors.New("visaflow: workflow definition malformed")
	ErrSessionNotFound      = errors.New("visaflow: session not found")
	ErrSessionAlreadyExists = errors.New("visaflow: session already exists")
	ErrUnexpectedDocument   = errors.New("visaflow: unexpected document")
	ErrValidation           = errors.New("visaflow: validation failed")
	ErrStageNotComplete     = errors.New("visaflow: stage not complete")
	ErrWorkflowNotComplete  = errors.New("visaflow: workflow not complete")
	ErrOracleTimeout        = errors.New("visaflow: oracle timeout")
	ErrOracleFailed         = errors.New("visaflow: oracle failed")
	ErrPersistence          = errors.New("visaflow: persistence failed")
)

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ValidationErrors groups several field failures raised by one event.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, item := range e {
		parts = append(parts, item.Field+": "+item.Reason)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidation
}

// IncompleteError is returned when advancing a stage that still has missing items.
type IncompleteError struct {
	StageID string
	Missing []MissingItem
}

func (e *IncompleteError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, item := range e.Missing {
		names = append(names, string(item.Kind)+":"+item.Name)
	}
	return fmt.Sprintf("%s: %s missing [%s]", ErrStageNotComplete.Error(), e.StageID, strings.Join(names, ", "))
}

func (e *IncompleteError) Unwrap() error {
	return ErrStageNotComplete
}

// FieldIssues flattens validation failures found in err.
func FieldIssues(err error) []*ValidationError {
	if err == nil {
		return nil
	}
	var many ValidationErrors
	if errors.As(err, &many) {
		return many
	}
	var single *ValidationError
	if errors.As(err, &single) {
		return []*ValidationError{single}
	}
	return nil
}

type Category string

const (
	CategoryNone       Category = ""
	CategoryDefinition Category = "definition"
	CategoryInput      Category = "input"
	CategoryOracle     Category = "oracle"
	CategoryState      Category = "state"
	CategoryUnknown    Category = "unknown"
)

// CategoryOf places err in the error taxonomy.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrDefinitionNotFound), errors.Is(err, ErrDefinitionMalformed):
		return CategoryDefinition
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnexpectedDocument):
		return CategoryInput
	case errors.Is(err, ErrOracleTimeout), errors.Is(err, ErrOracleFailed):
		return CategoryOracle
	case errors.Is(err, ErrStageNotComplete), errors.Is(err, ErrWorkflowNotComplete),
		errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionAlreadyExists):
		return CategoryState
	default:
		return CategoryUnknown
	}
}

// IsRetryable reports whether the caller should resend the same event.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOracleTimeout) || errors.Is(err, ErrPersistence)
}

// Package session holds workflow sessions and the store that serializes access to them.
package session

import (
	"maps"
	"strconv"
	"time"

	"github.com/tbxark/visaflow/types"
)

// Stage keys used before the first stage and after the last one.
const (
	StageStart    = "start"
	StageComplete = "complete"
)

type UploadedDocument struct {
	Type             string         `json:"type"`
	UploadedAt       time.Time      `json:"uploaded_at"`
	ExtractionResult map[string]any `json:"extraction_result"`
}

type DeviationContext struct {
	StageAtInterruption string `json:"stage_at_interruption"`
	LastQuestion        string `json:"last_question,omitempty"`
	UserMessage         string `json:"user_message,omitempty"`
}

type TravelDates struct {
	Arrival   string `json:"arrival,omitempty"`
	Departure string `json:"departure,omitempty"`
}

// HandoffData is the read-only snapshot supplied once at session creation.
type HandoffData struct {
	VisaType      string         `json:"visa_type"`
	Country       string         `json:"country,omitempty"`
	Purpose       string         `json:"purpose,omitempty"`
	TravelerCount int            `json:"traveler_count,omitempty"`
	TravelDates   TravelDates    `json:"travel_dates"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Map flattens the handoff into field-name keys, omitting empty values.
// Named attributes win over Extra entries with the same key.
func (h HandoffData) Map() map[string]any {
	out := make(map[string]any, len(h.Extra)+6)
	for k, v := range h.Extra {
		if !IsEmpty(v) {
			out[k] = v
		}
	}
	set := func(key string, value any) {
		if !IsEmpty(value) {
			out[key] = value
		}
	}
	set("visa_type", h.VisaType)
	set("country", h.Country)
	set("purpose", h.Purpose)
	if h.TravelerCount > 0 {
		out["traveler_count"] = h.TravelerCount
	}
	set("arrival_date", h.TravelDates.Arrival)
	set("departure_date", h.TravelDates.Departure)
	return out
}

func (h HandoffData) Lookup(name string) (any, bool) {
	v, ok := h.Map()[name]
	return v, ok
}

// IsEmpty treats nil, blank strings and empty collections as absent.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// Stringify renders a collected value for validation and display.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// Session is one application thread. It is mutated only through Store.Update.
type Session struct {
	ID                string                      `json:"session_id"`
	VisaType          string                      `json:"visa_type"`
	StageID           string                      `json:"stage_id"`
	CurrentStageIndex int                         `json:"current_stage_index"`
	CollectedData     map[string]any              `json:"collected_data"`
	UploadedDocuments map[string]UploadedDocument `json:"uploaded_documents"`
	StageCompletion   map[string]bool             `json:"stage_completion"`
	Status            types.Status                `json:"status"`
	Interrupted       bool                        `json:"interrupted"`
	DeviationContext  *DeviationContext           `json:"deviation_context"`
	Handoff           HandoffData                 `json:"handoff"`
	Revision          int64                       `json:"revision"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

func New(id string, handoff HandoffData, now time.Time) *Session {
	return &Session{
		ID:                id,
		VisaType:          handoff.VisaType,
		StageID:           StageStart,
		CollectedData:     make(map[string]any),
		UploadedDocuments: make(map[string]UploadedDocument),
		StageCompletion:   make(map[string]bool),
		Status:            types.StatusInitialized,
		Handoff:           handoff,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Normalize replaces nil maps so that JSON pointers into them resolve.
func (s *Session) Normalize() {
	if s.CollectedData == nil {
		s.CollectedData = make(map[string]any)
	}
	if s.UploadedDocuments == nil {
		s.UploadedDocuments = make(map[string]UploadedDocument)
	}
	if s.StageCompletion == nil {
		s.StageCompletion = make(map[string]bool)
	}
	if s.StageID == "" {
		s.StageID = StageStart
	}
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.CollectedData = maps.Clone(s.CollectedData)
	out.StageCompletion = maps.Clone(s.StageCompletion)
	out.UploadedDocuments = make(map[string]UploadedDocument, len(s.UploadedDocuments))
	for k, doc := range s.UploadedDocuments {
		doc.ExtractionResult = maps.Clone(doc.ExtractionResult)
		out.UploadedDocuments[k] = doc
	}
	if s.DeviationContext != nil {
		dc := *s.DeviationContext
		out.DeviationContext = &dc
	}
	out.Handoff.Extra = maps.Clone(s.Handoff.Extra)
	out.Normalize()
	return &out
}

// Has reports whether name holds a non-empty collected value.
func (s *Session) Has(name string) bool {
	v, ok := s.CollectedData[name]
	return ok && !IsEmpty(v)
}

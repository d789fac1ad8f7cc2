package types

// Status is the lifecycle state of a workflow session.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusLoaded      Status = "loaded"
	StatusInProgress  Status = "in_progress"
	StatusInterrupted Status = "interrupted"
	StatusComplete    Status = "complete"
	StatusExported    Status = "exported"
)

var validStatuses = map[Status]bool{
	StatusInitialized: true,
	StatusLoaded:      true,
	StatusInProgress:  true,
	StatusInterrupted: true,
	StatusComplete:    true,
	StatusExported:    true,
}

func (s Status) Valid() bool {
	return validStatuses[s]
}

// IsComplete reports whether every stage has been completed. Exported sessions stay complete.
func (s Status) IsComplete() bool {
	return s == StatusComplete || s == StatusExported
}

type Intent string

const (
	IntentProgress          Intent = "progress"
	IntentDeviation         Intent = "deviation"
	IntentModification      Intent = "modification"
	IntentResume            Intent = "resume"
	IntentDocumentProcessed Intent = "document_processed"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentProgress, IntentDeviation, IntentModification, IntentResume, IntentDocumentProcessed:
		return true
	default:
		return false
	}
}

// ExtractionMethod declares how a field value is obtained.
type ExtractionMethod string

const (
	ExtractionUserInput       ExtractionMethod = "user_input"
	ExtractionDocumentDerived ExtractionMethod = "document_derived"
	ExtractionDerivedField    ExtractionMethod = "derived_from_other_field"
	ExtractionAccountDerived  ExtractionMethod = "account_derived"
	ExtractionPreSelected     ExtractionMethod = "pre_selected"
)

func (m ExtractionMethod) Valid() bool {
	switch m {
	case ExtractionUserInput, ExtractionDocumentDerived, ExtractionDerivedField, ExtractionAccountDerived, ExtractionPreSelected:
		return true
	default:
		return false
	}
}

// PromptsUser is true only for user_input; every other method is satisfied without asking.
func (m ExtractionMethod) PromptsUser() bool {
	return m == ExtractionUserInput
}

type DocumentItem struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Extracts    []string `json:"extracts,omitempty"`
	Required    bool     `json:"required"`
	Satisfied   bool     `json:"satisfied"`
}

type FieldItem struct {
	Name       string   `json:"name"`
	FieldType  string   `json:"field_type"`
	PromptHint string   `json:"prompt_hint,omitempty"`
	Options    []string `json:"options,omitempty"`
	Required   bool     `json:"required"`
	Satisfied  bool     `json:"satisfied"`
}

// Requirements is the information a stage must convey to the user.
// Documents lists every declared document; Fields lists only user_input fields.
type Requirements struct {
	StageID            string         `json:"stage_id"`
	StageTitle         string         `json:"stage_title"`
	StageDescription   string         `json:"stage_description,omitempty"`
	StageIndex         int            `json:"stage_index"`
	TotalStages        int            `json:"total_stages"`
	Documents          []DocumentItem `json:"documents"`
	Fields             []FieldItem    `json:"fields"`
	AwaitingDerivation []string       `json:"awaiting_derivation,omitempty"`
	Complete           bool           `json:"complete"`
}

func (r Requirements) OutstandingDocuments() []DocumentItem {
	out := make([]DocumentItem, 0, len(r.Documents))
	for _, doc := range r.Documents {
		if doc.Required && !doc.Satisfied {
			out = append(out, doc)
		}
	}
	return out
}

func (r Requirements) OutstandingFields() []FieldItem {
	out := make([]FieldItem, 0, len(r.Fields))
	for _, field := range r.Fields {
		if field.Required && !field.Satisfied {
			out = append(out, field)
		}
	}
	return out
}

type MissingKind string

const (
	MissingDocument MissingKind = "document"
	MissingField    MissingKind = "field"
)

type MissingItem struct {
	Kind MissingKind `json:"kind"`
	Name string      `json:"name"`
}

// Completion is the result of evaluating the current stage.
type Completion struct {
	StageID  string        `json:"stage_id"`
	Complete bool          `json:"complete"`
	Missing  []MissingItem `json:"missing,omitempty"`
}

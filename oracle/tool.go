package oracle

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/visaflow/structured"
	"github.com/tbxark/visaflow/types"
)

const (
	interpretToolName        = "interpret_user_text"
	interpretToolDescription = "Classify the user's message and extract the field values it provides."
	extractToolName          = "extract_document_fields"
	extractToolDescription   = "Return the field values read from the attached document."
)

type FieldValue struct {
	Name  string `json:"name" jsonschema:"required,description=Field name exactly as listed"`
	Value string `json:"value" jsonschema:"required,description=Field value as stated by the user or printed in the document"`
}

type interpretResult struct {
	Intent        types.Intent `json:"intent" jsonschema:"required,enum=progress,enum=deviation,enum=modification,enum=resume,description=The user's intent"`
	Fields        []FieldValue `json:"fields,omitempty" jsonschema:"description=Field values provided by the message"`
	StageComplete bool         `json:"stage_complete" jsonschema:"description=Whether every required field of the current stage now has a value"`
}

type extractResult struct {
	Fields []FieldValue `json:"fields" jsonschema:"required,description=Legible field values found in the document"`
}

type interpretRequest struct {
	Text    string
	Context StageContext
}

type extractRequest struct {
	DocType string
	Doc     Document
}

type toolOracleOptions struct {
	interpretSystemPromptTemplate string
	extractSystemPromptTemplate   string
	now                           func() time.Time
	logger                        *slog.Logger
}

type ToolOracleOption func(*toolOracleOptions)

func WithInterpretSystemPromptTemplate(tmpl string) ToolOracleOption {
	return func(o *toolOracleOptions) {
		o.interpretSystemPromptTemplate = tmpl
	}
}

func WithExtractSystemPromptTemplate(tmpl string) ToolOracleOption {
	return func(o *toolOracleOptions) {
		o.extractSystemPromptTemplate = tmpl
	}
}

func WithToolClock(now func() time.Time) ToolOracleOption {
	return func(o *toolOracleOptions) {
		o.now = now
	}
}

func WithToolLogger(logger *slog.Logger) ToolOracleOption {
	return func(o *toolOracleOptions) {
		o.logger = logger
	}
}

// ToolOracle implements both oracle capabilities with forced tool calls on a chat model.
type ToolOracle struct {
	interpret *structured.Chain[*interpretRequest, interpretResult]
	extract   *structured.Chain[*extractRequest, extractResult]
	logger    *slog.Logger
}

var _ ExtractionOracle = (*ToolOracle)(nil)

func NewToolOracle(chatModel model.ToolCallingChatModel, opts ...ToolOracleOption) (*ToolOracle, error) {
	options := &toolOracleOptions{
		interpretSystemPromptTemplate: DefaultInterpretSystemPromptTemplate,
		extractSystemPromptTemplate:   DefaultExtractSystemPromptTemplate,
		now:                           time.Now,
		logger:                        slog.Default(),
	}
	for _, o := range opts {
		o(options)
	}

	interpretPrompt := fmt.Sprintf(options.interpretSystemPromptTemplate, interpretToolName)
	interpret, err := structured.NewChain[*interpretRequest, interpretResult](
		chatModel,
		func(ctx context.Context, req *interpretRequest) ([]*schema.Message, error) {
			message, err := formatStageContext(req.Context, options.now())
			if err != nil {
				return nil, fmt.Errorf("convert to prompt message failed: %w", err)
			}
			message += fmt.Sprintf("\n\n## User Message:\n%s", req.Text)
			return []*schema.Message{
				schema.SystemMessage(interpretPrompt),
				schema.UserMessage(message),
			}, nil
		},
		interpretToolName,
		interpretToolDescription,
	)
	if err != nil {
		return nil, err
	}

	extractPrompt := fmt.Sprintf(options.extractSystemPromptTemplate, extractToolName)
	extract, err := structured.NewChain[*extractRequest, extractResult](
		chatModel,
		func(ctx context.Context, req *extractRequest) ([]*schema.Message, error) {
			return buildExtractMessages(extractPrompt, req)
		},
		extractToolName,
		extractToolDescription,
	)
	if err != nil {
		return nil, err
	}
	return &ToolOracle{interpret: interpret, extract: extract, logger: options.logger}, nil
}

func (o *ToolOracle) InterpretUserText(ctx context.Context, text string, sc StageContext) (Interpretation, error) {
	result, err := o.interpret.Invoke(ctx, &interpretRequest{Text: text, Context: sc})
	if err != nil {
		return Interpretation{}, classify(err)
	}
	if !result.Intent.Valid() || result.Intent == types.IntentDocumentProcessed {
		return Interpretation{}, fmt.Errorf("%w: %s returned intent %q", types.ErrOracleFailed, interpretToolName, result.Intent)
	}
	interp := Interpretation{
		Intent:        result.Intent,
		Fields:        fieldMap(result.Fields),
		StageComplete: result.StageComplete,
	}
	o.logger.Debug("Interpreted user text", "stage", sc.StageID, "intent", interp.Intent, "fields", len(interp.Fields))
	return interp, nil
}

func (o *ToolOracle) ExtractFromDocument(ctx context.Context, docType string, doc Document) (map[string]any, error) {
	result, err := o.extract.Invoke(ctx, &extractRequest{DocType: docType, Doc: doc})
	if err != nil {
		return nil, classify(err)
	}
	fields := fieldMap(result.Fields)
	o.logger.Debug("Extracted document", "document", docType, "fields", len(fields))
	return fields, nil
}

func buildExtractMessages(systemPrompt string, req *extractRequest) ([]*schema.Message, error) {
	var intro strings.Builder
	fmt.Fprintf(&intro, "# Document type:\n%s", req.DocType)
	if req.Doc.Name != "" {
		fmt.Fprintf(&intro, "\n\n# File name:\n%s", req.Doc.Name)
	}
	if len(req.Doc.Hints) > 0 {
		fmt.Fprintf(&intro, "\n\n# Requested fields:\n%s", strings.Join(req.Doc.Hints, ", "))
	}

	mime := mimeTypeOf(req.Doc)
	switch {
	case strings.HasPrefix(mime, "image/"):
		dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Doc.Data)
		return []*schema.Message{
			schema.SystemMessage(systemPrompt),
			{
				Role: schema.User,
				MultiContent: []schema.ChatMessagePart{
					{Type: schema.ChatMessagePartTypeText, Text: intro.String()},
					{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{
						URL:      dataURL,
						Detail:   schema.ImageURLDetailHigh,
						MIMEType: mime,
					}},
				},
			},
		}, nil
	case isTextual(mime) || utf8.Valid(req.Doc.Data):
		return []*schema.Message{
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(fmt.Sprintf("%s\n\n# Document content:\n%s", intro.String(), string(req.Doc.Data))),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported document format %s", types.ErrOracleFailed, mime)
	}
}

func fieldMap(values []FieldValue) map[string]any {
	out := make(map[string]any, len(values))
	for _, fv := range values {
		name := strings.TrimSpace(fv.Name)
		value := strings.TrimSpace(fv.Value)
		if name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	return out
}

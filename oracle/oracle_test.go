package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/visaflow/structured/structuredtest"
	"github.com/tbxark/visaflow/types"
)

func contactContext() StageContext {
	return NewStageContext(types.Requirements{
		StageID:    "contact",
		StageTitle: "Contact Information",
		Fields: []types.FieldItem{
			{Name: "email", FieldType: "email", Required: true, PromptHint: "Your email address"},
			{Name: "nickname", FieldType: "text"},
		},
		Documents: []types.DocumentItem{},
	}, map[string]any{"name": "Jane Doe"}, []string{"name", "email", "nickname"})
}

func TestWithTimeoutIgnoredContext(t *testing.T) {
	slow := NewStatic().Delay(200 * time.Millisecond)
	o := WithTimeout(slow, 20*time.Millisecond)

	start := time.Now()
	_, err := o.InterpretUserText(context.Background(), "hello", contactContext())
	require.ErrorIs(t, err, types.ErrOracleTimeout)
	assert.True(t, types.IsRetryable(err))
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	_, err = o.ExtractFromDocument(context.Background(), "passport", Document{})
	require.ErrorIs(t, err, types.ErrOracleTimeout)
}

func TestWithTimeoutPassesResults(t *testing.T) {
	fast := NewStatic().
		OnDocument("passport", map[string]any{"name": "Jane Doe"}).
		OnText("my email is a@b.com", Interpretation{Intent: types.IntentProgress, Fields: map[string]any{"email": "a@b.com"}})
	o := WithTimeout(fast, time.Second)

	fields, err := o.ExtractFromDocument(context.Background(), "passport", Document{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Jane Doe"}, fields)

	interp, err := o.InterpretUserText(context.Background(), "  My email is a@b.com ", contactContext())
	require.NoError(t, err)
	assert.Equal(t, types.IntentProgress, interp.Intent)
	assert.Equal(t, "a@b.com", interp.Fields["email"])
}

func TestWithTimeoutClassifiesFailures(t *testing.T) {
	boom := errors.New("upstream 500")
	o := WithTimeout(NewStatic().Fail(boom), time.Second)
	_, err := o.InterpretUserText(context.Background(), "hi", contactContext())
	require.ErrorIs(t, err, types.ErrOracleFailed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, types.CategoryOracle, types.CategoryOf(err))
	assert.False(t, types.IsRetryable(err))

	o = WithTimeout(NewStatic().Fail(context.DeadlineExceeded), time.Second)
	_, err = o.InterpretUserText(context.Background(), "hi", contactContext())
	require.ErrorIs(t, err, types.ErrOracleTimeout)
}

type panicOracle struct{}

func (panicOracle) ExtractFromDocument(ctx context.Context, docType string, doc Document) (map[string]any, error) {
	panic("bad oracle")
}

func (panicOracle) InterpretUserText(ctx context.Context, text string, sc StageContext) (Interpretation, error) {
	panic("bad oracle")
}

func TestWithTimeoutRecoversPanic(t *testing.T) {
	_, err := WithTimeout(panicOracle{}, time.Second).ExtractFromDocument(context.Background(), "passport", Document{})
	require.ErrorIs(t, err, types.ErrOracleFailed)
}

func TestFailback(t *testing.T) {
	broken := NewStatic().Fail(types.ErrOracleTimeout)
	working := NewStatic().OnText("resume please", Interpretation{Intent: types.IntentResume})

	f := NewFailback(broken, working)
	interp, err := f.InterpretUserText(context.Background(), "resume please", contactContext())
	require.NoError(t, err)
	assert.Equal(t, types.IntentResume, interp.Intent)
	assert.Len(t, broken.Calls(), 1)
	assert.Len(t, working.Calls(), 1)

	f = NewFailback(broken, NewStatic().Fail(errors.New("down")))
	_, err = f.ExtractFromDocument(context.Background(), "passport", Document{})
	require.ErrorIs(t, err, types.ErrOracleTimeout)

	_, err = NewFailback().InterpretUserText(context.Background(), "x", contactContext())
	require.ErrorIs(t, err, types.ErrOracleFailed)
}

func TestStaticCallLog(t *testing.T) {
	s := NewStatic().Fallback(Interpretation{Intent: types.IntentDeviation})
	interp, err := s.InterpretUserText(context.Background(), "what is the weather", contactContext())
	require.NoError(t, err)
	assert.Equal(t, types.IntentDeviation, interp.Intent)

	fields, err := s.ExtractFromDocument(context.Background(), "unknown", Document{})
	require.NoError(t, err)
	assert.Empty(t, fields)

	assert.Equal(t, []StaticCall{
		{Kind: CallInterpret, Input: "what is the weather", Stage: "contact"},
		{Kind: CallExtract, Input: "unknown"},
	}, s.Calls())
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func TestToolOracleInterpret(t *testing.T) {
	m := structuredtest.NewModel(structuredtest.Reply{
		Tool: interpretToolName,
		Args: map[string]any{
			"intent":         "progress",
			"fields":         []map[string]any{{"name": "email", "value": " a@b.com "}, {"name": "", "value": "x"}},
			"stage_complete": true,
		},
	})
	o, err := NewToolOracle(m, WithToolClock(fixedClock))
	require.NoError(t, err)

	interp, err := o.InterpretUserText(context.Background(), "a@b.com", contactContext())
	require.NoError(t, err)
	assert.Equal(t, Interpretation{
		Intent:        types.IntentProgress,
		Fields:        map[string]any{"email": "a@b.com"},
		StageComplete: true,
	}, interp)

	calls := m.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2)
	system := calls[0].Messages[0].Content
	assert.Contains(t, system, "'"+interpretToolName+"'")
	prompt := calls[0].Messages[1].Content
	assert.Contains(t, prompt, "2026-03-01")
	assert.Contains(t, prompt, "Contact Information (contact)")
	assert.Contains(t, prompt, "| email")
	assert.Contains(t, prompt, `"name":"Jane Doe"`)
	assert.True(t, strings.HasSuffix(prompt, "## User Message:\na@b.com"))
}

func TestToolOracleRejectsUnknownIntent(t *testing.T) {
	m := structuredtest.NewModel(
		structuredtest.Reply{Tool: interpretToolName, Args: map[string]any{"intent": "cancel"}},
		structuredtest.Reply{Content: "plain text answer"},
	)
	o, err := NewToolOracle(m)
	require.NoError(t, err)

	_, err = o.InterpretUserText(context.Background(), "cancel", contactContext())
	require.ErrorIs(t, err, types.ErrOracleFailed)

	_, err = o.InterpretUserText(context.Background(), "hello", contactContext())
	require.ErrorIs(t, err, types.ErrOracleFailed)
}

func TestToolOracleExtractImage(t *testing.T) {
	m := structuredtest.NewModel(structuredtest.Reply{
		Tool: extractToolName,
		Args: map[string]any{"fields": []map[string]any{
			{"name": "name", "value": "JANE DOE"},
			{"name": "passport_number", "value": "C1234567"},
		}},
	})
	o, err := NewToolOracle(m)
	require.NoError(t, err)

	png := []byte("\x89PNG\r\n\x1a\n0000")
	fields, err := o.ExtractFromDocument(context.Background(), "passport", Document{
		Name:  "passport.png",
		Data:  png,
		Hints: []string{"name", "passport_number"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "JANE DOE", "passport_number": "C1234567"}, fields)

	msgs := m.Calls()[0].Messages
	require.Len(t, msgs, 2)
	parts := msgs[1].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, schema.ChatMessagePartTypeText, parts[0].Type)
	assert.Contains(t, parts[0].Text, "name, passport_number")
	require.NotNil(t, parts[1].ImageURL)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,"))
}

func TestToolOracleExtractText(t *testing.T) {
	m := structuredtest.NewModel(structuredtest.Reply{
		Tool: extractToolName,
		Args: map[string]any{"fields": []map[string]any{{"name": "port_of_entry", "value": "Hanoi"}}},
	})
	o, err := NewToolOracle(m)
	require.NoError(t, err)

	fields, err := o.ExtractFromDocument(context.Background(), "flight_ticket", Document{
		MIMEType: "text/plain; charset=utf-8",
		Data:     []byte("Arrival: Noi Bai International Airport, Hanoi"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Hanoi", fields["port_of_entry"])
	assert.Contains(t, m.Calls()[0].Messages[1].Content, "Noi Bai")
}

func TestToolOracleExtractUnsupported(t *testing.T) {
	m := structuredtest.NewModel()
	o, err := NewToolOracle(m)
	require.NoError(t, err)

	_, err = o.ExtractFromDocument(context.Background(), "passport", Document{
		MIMEType: "application/octet-stream",
		Data:     []byte{0xff, 0xfe, 0x00, 0x01},
	})
	require.ErrorIs(t, err, types.ErrOracleFailed)
	assert.Empty(t, m.Calls())
}

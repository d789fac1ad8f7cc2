package visaflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/intent"
	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

const routerWorkflow = `{
  "visa_type": "test_visa",
  "collection_sequence": [
    {
      "stage": "documents",
      "stage_title": "Documents",
      "required_documents": [
        {"type": "passport", "name": "Passport", "extracts": ["name"]}
      ]
    },
    {
      "stage": "contact",
      "stage_title": "Contact",
      "fields": {
        "email": {
          "extraction_method": "user_input",
          "overwrite_policy": "overwritable",
          "validation": {"required": true, "min_length": 5}
        },
        "nickname": {
          "extraction_method": "user_input",
          "overwrite_policy": "overwritable",
          "required": false
        }
      }
    },
    {
      "stage": "trip",
      "stage_title": "Trip",
      "fields": {
        "destination": {
          "extraction_method": "derived_from_other_field",
          "overwrite_policy": "immutable_once_set",
          "derived_from": "country"
        }
      }
    }
  ],
  "default_values": {"visa_type": "Single Entry"}
}`

type fixture struct {
	router *Router
	store  *session.MemoryStore
	oracle *oracle.Static
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	loader := definition.NewLoader()
	_, err := loader.Register("test_visa.json", []byte(routerWorkflow), definition.FormatJSON)
	require.NoError(t, err)
	store := session.NewMemoryStore()
	static := oracle.NewStatic()
	opts = append([]Option{WithRecognizer(intent.NewOracleRecognizer(oracle.WithTimeout(static, 50*time.Millisecond)))}, opts...)
	return &fixture{
		router: NewRouter(store, loader, oracle.WithTimeout(static, 50*time.Millisecond), opts...),
		store:  store,
		oracle: static,
	}
}

func (f *fixture) open(t *testing.T, handoff session.HandoffData) *Response {
	t.Helper()
	if handoff.VisaType == "" {
		handoff.VisaType = "test_visa"
	}
	resp, err := f.router.Open(context.Background(), "s1", handoff)
	require.NoError(t, err)
	return resp
}

func (f *fixture) text(t *testing.T, text string) *Response {
	t.Helper()
	resp, err := f.router.Handle(context.Background(), Event{SessionID: "s1", Kind: EventText, Text: text})
	require.NoError(t, err)
	return resp
}

func (f *fixture) upload(t *testing.T, docType string) *Response {
	t.Helper()
	resp, err := f.router.Handle(context.Background(), Event{
		SessionID:    "s1",
		Kind:         EventDocument,
		DocumentType: docType,
		Document:     &oracle.Document{Name: docType + ".png", MIMEType: "image/png", Data: []byte("img")},
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) session(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.router.Session(context.Background(), "s1")
	require.NoError(t, err)
	return s
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	resp := f.open(t, session.HandoffData{Country: "VNM"})
	assert.Equal(t, OutcomeOK, resp.Outcome)
	assert.Equal(t, types.StatusLoaded, resp.Status)
	assert.Equal(t, "documents", resp.Requirements.StageID)
	require.Len(t, resp.Requirements.Documents, 1)
	assert.False(t, resp.Requirements.Documents[0].Satisfied)

	_, err := f.router.Open(context.Background(), "s1", session.HandoffData{VisaType: "test_visa"})
	assert.ErrorIs(t, err, types.ErrSessionAlreadyExists)

	_, err = f.router.Open(context.Background(), "s2", session.HandoffData{VisaType: "mars_tourism"})
	assert.ErrorIs(t, err, types.ErrDefinitionNotFound)
	exists, err := f.store.Exists(context.Background(), "s2")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.router.Open(context.Background(), "", session.HandoffData{})
	assert.ErrorIs(t, err, types.ErrValidation)

	generated, err := f.router.Open(context.Background(), "", session.HandoffData{VisaType: "TEST_VISA "})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.SessionID)
}

func TestHandleUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.Handle(context.Background(), Event{SessionID: "missing", Kind: EventText, Text: "hi"})
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
	_, err = f.router.Requirements(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestScenarioDocumentAdvancesWithoutUserInput(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})

	resp := f.upload(t, "passport")
	assert.Equal(t, OutcomeOK, resp.Outcome)
	assert.Equal(t, types.IntentDocumentProcessed, resp.Intent)
	assert.Equal(t, []string{"name"}, resp.Applied)
	assert.Equal(t, []string{"documents"}, resp.Advanced)
	assert.Equal(t, "contact", resp.Requirements.StageID)
	assert.Equal(t, "Jane Doe", f.session(t).CollectedData["name"])

	var fieldNames []string
	for _, field := range resp.Requirements.Fields {
		fieldNames = append(fieldNames, field.Name)
	}
	assert.Equal(t, []string{"email", "nickname"}, fieldNames)
}

func TestScenarioValidationThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})
	f.upload(t, "passport")
	f.oracle.
		OnText("a@b", oracle.Interpretation{Intent: types.IntentProgress, Fields: map[string]any{"email": "a@b"}}).
		OnText("a@b.com", oracle.Interpretation{Intent: types.IntentProgress, Fields: map[string]any{"email": "a@b.com", "weather": "sunny"}})

	before := f.session(t)
	resp := f.text(t, "a@b")
	assert.Equal(t, OutcomeValidationFailed, resp.Outcome)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "email", resp.Issues[0].Field)
	assert.Equal(t, before.CollectedData, f.session(t).CollectedData)
	assert.Equal(t, before.Revision, f.session(t).Revision)

	resp = f.text(t, "a@b.com")
	assert.Equal(t, OutcomeCompleted, resp.Outcome)
	assert.Equal(t, []string{"email"}, resp.Applied)
	// trip derives its only field from the handoff and is skipped on entry
	assert.Equal(t, []string{"contact", "trip"}, resp.Advanced)
	assert.Equal(t, types.StatusComplete, resp.Status)
	assert.NotContains(t, f.session(t).CollectedData, "weather")
}

func TestScenarioDeviationThenResume(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})
	f.upload(t, "passport")
	f.oracle.
		OnText("what is the weather in Hanoi?", oracle.Interpretation{Intent: types.IntentDeviation}).
		OnText("ok, back to it", oracle.Interpretation{Intent: types.IntentResume})

	before, err := f.router.Requirements(context.Background(), "s1")
	require.NoError(t, err)
	snapshot := f.session(t)

	resp := f.text(t, "what is the weather in Hanoi?")
	assert.Equal(t, OutcomeOK, resp.Outcome)
	assert.Equal(t, types.IntentDeviation, resp.Intent)
	assert.True(t, resp.Interrupted)
	require.NotNil(t, resp.DeviationContext)
	assert.Equal(t, "contact", resp.DeviationContext.StageAtInterruption)
	assert.Equal(t, before, resp.Requirements)
	interrupted := f.session(t)
	assert.Equal(t, snapshot.CurrentStageIndex, interrupted.CurrentStageIndex)
	assert.Equal(t, snapshot.CollectedData, interrupted.CollectedData)
	assert.Equal(t, snapshot.UploadedDocuments, interrupted.UploadedDocuments)

	resp = f.text(t, "ok, back to it")
	assert.Equal(t, types.IntentResume, resp.Intent)
	assert.False(t, resp.Interrupted)
	assert.Nil(t, resp.DeviationContext)
	assert.Equal(t, before, resp.Requirements)
}

func TestProgressClearsInterruption(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnText("tell me a joke?", oracle.Interpretation{Intent: types.IntentDeviation})
	f.text(t, "tell me a joke?")
	require.True(t, f.session(t).Interrupted)

	resp := f.text(t, "where do I upload?")
	assert.Equal(t, types.IntentProgress, resp.Intent)
	assert.False(t, resp.Interrupted)
	assert.Equal(t, types.StatusInProgress, resp.Status)
}

func TestModificationAcrossStages(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})
	f.upload(t, "passport")
	f.oracle.
		OnText("my name is actually Jane Q. Doe", oracle.Interpretation{Intent: types.IntentModification, Fields: map[string]any{"name": "Jane Q. Doe"}}).
		OnText("change destination to THA", oracle.Interpretation{Intent: types.IntentModification, Fields: map[string]any{"destination": "THA", "nickname": "x"}})

	index := f.session(t).CurrentStageIndex
	resp := f.text(t, "my name is actually Jane Q. Doe")
	assert.Equal(t, types.IntentModification, resp.Intent)
	assert.Equal(t, []string{"name"}, resp.Applied)
	assert.Equal(t, "Jane Q. Doe", f.session(t).CollectedData["name"])
	assert.Equal(t, index, f.session(t).CurrentStageIndex)

	// destination is not set yet, so it can be written; nickname too
	resp = f.text(t, "change destination to THA")
	assert.Equal(t, OutcomeOK, resp.Outcome)
	assert.Equal(t, "THA", f.session(t).CollectedData["destination"])

	f.oracle.OnText("change destination to JPN", oracle.Interpretation{Intent: types.IntentModification, Fields: map[string]any{"destination": "JPN", "nickname": "y"}})
	resp = f.text(t, "change destination to JPN")
	assert.Equal(t, OutcomeValidationFailed, resp.Outcome)
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "destination", resp.Issues[0].Field)
	// the whole event is rejected
	assert.Equal(t, "x", f.session(t).CollectedData["nickname"])
}

func TestModificationNeverMovesTheStage(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})
	f.upload(t, "passport")
	require.Equal(t, 1, f.session(t).CurrentStageIndex)

	// email is the last missing value of the contact stage
	resp, err := f.router.Handle(context.Background(), Event{
		SessionID: "s1",
		Kind:      EventSignal,
		Intent:    types.IntentModification,
		Fields:    map[string]any{"email": "a@b.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, resp.Outcome)
	assert.Equal(t, []string{"email"}, resp.Applied)
	assert.Empty(t, resp.Advanced)
	assert.Equal(t, "contact", resp.Requirements.StageID)
	assert.True(t, resp.Requirements.Complete)
	s := f.session(t)
	assert.Equal(t, 1, s.CurrentStageIndex)
	assert.Equal(t, types.StatusInProgress, s.Status)
	assert.Equal(t, "a@b.com", s.CollectedData["email"])

	// the next progress turn moves on, through the auto-skipped trip stage
	resp = f.text(t, "ok")
	assert.Equal(t, OutcomeCompleted, resp.Outcome)
	assert.Equal(t, []string{"contact", "trip"}, resp.Advanced)
	assert.Equal(t, 3, f.session(t).CurrentStageIndex)
}

func TestUnexpectedDocument(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	before := f.session(t)

	resp := f.upload(t, "visa_photo")
	assert.Equal(t, OutcomeUnexpectedDocument, resp.Outcome)
	assert.Equal(t, "documents", resp.Requirements.StageID)
	assert.Empty(t, resp.Message)
	assert.Equal(t, before.CollectedData, f.session(t).CollectedData)
	assert.Empty(t, f.oracle.Calls())
}

func TestOracleTimeoutLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"}).Delay(200 * time.Millisecond)
	before := f.session(t)

	resp := f.upload(t, "passport")
	assert.Equal(t, OutcomeRetry, resp.Outcome)
	assert.Equal(t, retryMessage, resp.Message)
	after := f.session(t)
	assert.Equal(t, before.Revision, after.Revision)
	assert.Empty(t, after.UploadedDocuments)

	resp = f.text(t, "a@b.com")
	assert.Equal(t, OutcomeRetry, resp.Outcome)
	assert.Equal(t, before.Revision, f.session(t).Revision)

	f.oracle.Delay(0)
	resp = f.upload(t, "passport")
	assert.Equal(t, OutcomeOK, resp.Outcome)
	assert.Equal(t, "contact", resp.Requirements.StageID)
}

func TestClassificationFailureDefaultsToProgress(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.Fail(errors.New("model refused"))

	resp := f.text(t, "hello")
	assert.Equal(t, OutcomeOK, resp.Outcome)
	assert.Equal(t, types.IntentProgress, resp.Intent)
	assert.Equal(t, "documents", resp.Requirements.StageID)
	assert.NotContains(t, resp.Message, "model refused")
}

func TestLocalRecognizerFallback(t *testing.T) {
	f := newFixture(t)
	f.router.recognizer = intent.NewFailbackRecognizer(
		intent.NewOracleRecognizer(oracle.NewStatic().Fail(types.ErrOracleFailed)),
		intent.NewLocalRecognizer(),
	)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})
	f.upload(t, "passport")

	resp := f.text(t, "email: jane@example.com")
	assert.Equal(t, []string{"email"}, resp.Applied)
	assert.Equal(t, OutcomeCompleted, resp.Outcome)
}

func TestSignalEvents(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})

	resp, err := f.router.Handle(context.Background(), Event{
		SessionID:    "s1",
		Kind:         EventSignal,
		Intent:       types.IntentDocumentProcessed,
		DocumentType: "passport",
		Extraction:   map[string]any{"name": "Jane Doe"},
	})
	require.NoError(t, err)
	assert.Equal(t, "contact", resp.Requirements.StageID)
	assert.Empty(t, f.oracle.Calls())

	resp, err = f.router.Handle(context.Background(), Event{
		SessionID: "s1",
		Kind:      EventSignal,
		Intent:    types.IntentProgress,
		Fields:    map[string]any{"email": "a@b.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, resp.Outcome)

	resp, err = f.router.Handle(context.Background(), Event{SessionID: "s1", Kind: "fax"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeValidationFailed, resp.Outcome)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})

	_, err := f.router.Export(context.Background(), "s1")
	assert.ErrorIs(t, err, types.ErrWorkflowNotComplete)

	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})
	f.upload(t, "passport")
	f.oracle.OnText("a@b.com", oracle.Interpretation{Intent: types.IntentProgress, Fields: map[string]any{"email": "a@b.com"}})
	f.text(t, "a@b.com")

	payload, err := f.router.Export(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", payload.Fields["email"])
	assert.Equal(t, "VNM", payload.Fields["country"])
	assert.Equal(t, "VNM", payload.Fields["destination"])
	assert.Equal(t, "test_visa", payload.Fields["visa_type"])
	assert.Equal(t, []string{"destination", "email", "name"}, payload.MandatoryFieldsPopulated)
	assert.Equal(t, types.StatusExported, f.session(t).Status)

	revision := f.session(t).Revision
	again, err := f.router.Export(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, payload, again)
	assert.Equal(t, revision, f.session(t).Revision)

	progress, err := f.router.Progress(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, progress.CompletedStages)

	resp := f.text(t, "thanks")
	assert.Equal(t, OutcomeCompleted, resp.Outcome)
	assert.Equal(t, session.StageComplete, resp.Requirements.StageID)
}

func TestEventsAreSerializedPerSession(t *testing.T) {
	f := newFixture(t)
	f.open(t, session.HandoffData{Country: "VNM"})
	f.oracle.OnDocument("passport", map[string]any{"name": "Jane Doe"})
	f.upload(t, "passport")
	start := f.session(t).Revision

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.router.Handle(context.Background(), Event{
				SessionID: "s1",
				Kind:      EventSignal,
				Intent:    types.IntentModification,
				Fields:    map[string]any{"nickname": fmt.Sprintf("n%d", i)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, start+writers, f.session(t).Revision)
}

func TestPersistenceFailureIsReturned(t *testing.T) {
	loader := definition.NewLoader()
	_, err := loader.Register("test_visa.json", []byte(routerWorkflow), definition.FormatJSON)
	require.NoError(t, err)
	records := &flakyRecords{MemoryRecordStore: session.NewMemoryRecordStore("test")}
	store := session.NewMemoryStore(session.WithRecordStore(records), session.WithRetry(noRetry))
	router := NewRouter(store, loader, oracle.NewStatic())

	_, err = router.Open(context.Background(), "s1", session.HandoffData{VisaType: "test_visa"})
	require.NoError(t, err)

	records.fail = true
	_, err = router.Handle(context.Background(), Event{SessionID: "s1", Kind: EventSignal, Intent: types.IntentDeviation})
	assert.ErrorIs(t, err, types.ErrPersistence)
}

type flakyRecords struct {
	*session.MemoryRecordStore
	fail bool
}

func (f *flakyRecords) Save(ctx context.Context, rec session.Record) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryRecordStore.Save(ctx, rec)
}

func noRetry() backoff.BackOff {
	return &backoff.StopBackOff{}
}

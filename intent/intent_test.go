package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/visaflow/oracle"
	"github.com/tbxark/visaflow/types"
)

func contactRequest(text string) *Request {
	return &Request{
		Text: text,
		Context: oracle.StageContext{
			StageID: "contact",
			Fields: []types.FieldItem{
				{Name: "email", Required: true},
				{Name: "phone_number", Required: true, Satisfied: true},
			},
			Modifiable: []string{"name", "passport_number", "email", "phone_number"},
		},
	}
}

func TestLocalRecognizer(t *testing.T) {
	r := NewLocalRecognizer()
	tests := []struct {
		name   string
		text   string
		intent types.Intent
		fields map[string]any
	}{
		{"resume keyword", "Let's continue!", types.IntentResume, nil},
		{"pair for stage field", "Email: a@b.com", types.IntentProgress, map[string]any{"email": "a@b.com"}},
		{"several pairs", "email = a@b.com; phone number: 0901", types.IntentProgress, map[string]any{"email": "a@b.com", "phone_number": "0901"}},
		{"change request", "please change my passport number to C7654321", types.IntentModification, map[string]any{"passport_number": "C7654321"}},
		{"pair for earlier stage", "name: John Doe", types.IntentModification, map[string]any{"name": "John Doe"}},
		{"unknown change target", "change the weather to sunny", types.IntentProgress, map[string]any{"email": "change the weather to sunny"}},
		{"question", "What documents do I need for Japan?", types.IntentDeviation, nil},
		{"bare answer fills the only outstanding field", "a@b.com", types.IntentProgress, map[string]any{"email": "a@b.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.RecognizeIntent(context.Background(), contactRequest(tt.text))
			require.NoError(t, err)
			assert.Equal(t, tt.intent, c.Intent)
			assert.Equal(t, tt.fields, c.Fields)
		})
	}
}

func TestLocalRecognizerNothingOutstanding(t *testing.T) {
	req := contactRequest("ok")
	req.Context.Fields[0].Satisfied = true
	c, err := NewLocalRecognizer().RecognizeIntent(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.IntentProgress, c.Intent)
	assert.Empty(t, c.Fields)
}

func TestOracleRecognizer(t *testing.T) {
	s := oracle.NewStatic().OnText("I want to change my email", oracle.Interpretation{
		Intent: types.IntentModification,
		Fields: map[string]any{"email": "new@b.com"},
	})
	c, err := NewOracleRecognizer(s).RecognizeIntent(context.Background(), contactRequest("I want to change my email"))
	require.NoError(t, err)
	assert.Equal(t, types.IntentModification, c.Intent)
	assert.Equal(t, "new@b.com", c.Fields["email"])
	assert.Equal(t, []oracle.StaticCall{{Kind: oracle.CallInterpret, Input: "I want to change my email", Stage: "contact"}}, s.Calls())
}

func TestFailbackRecognizer(t *testing.T) {
	failing := NewOracleRecognizer(oracle.NewStatic().Fail(types.ErrOracleFailed))
	r := NewFailbackRecognizer(failing, NewLocalRecognizer())
	c, err := r.RecognizeIntent(context.Background(), contactRequest("resume"))
	require.NoError(t, err)
	assert.Equal(t, types.IntentResume, c.Intent)

	boom := errors.New("boom")
	r = NewFailbackRecognizer(failing, NewOracleRecognizer(oracle.NewStatic().Fail(boom)))
	c, err = r.RecognizeIntent(context.Background(), contactRequest("resume"))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, types.IntentProgress, c.Intent)
}

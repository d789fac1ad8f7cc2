package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

const contactWorkflow = `{
  "visa_type": "test_visa",
  "collection_sequence": [
    {
      "stage": "contact",
      "fields": {
        "email": {"extraction_method": "user_input", "overwrite_policy": "overwritable"},
        "nickname": {"extraction_method": "user_input", "overwrite_policy": "overwritable", "required": false},
        "phone_number": {"extraction_method": "user_input", "overwrite_policy": "overwritable"}
      }
    }
  ],
  "default_values": {"visa_type": "Single Entry", "visa_validity_days": 90, "country": "XXX"}
}`

func completedSession(collected map[string]any, handoff session.HandoffData) *session.Session {
	s := session.New("s1", handoff, time.Unix(0, 0))
	s.Status = types.StatusComplete
	s.CollectedData = collected
	return s
}

func testDefinition(t *testing.T) *definition.Definition {
	t.Helper()
	def, err := definition.Parse([]byte(contactWorkflow), definition.FormatJSON)
	require.NoError(t, err)
	return def
}

func TestScenarioHandoffCollectedAndDefaults(t *testing.T) {
	def, err := definition.Parse([]byte(`{
	  "visa_type": "test_visa",
	  "collection_sequence": [{"stage": "contact", "fields": {
	    "email": {"extraction_method": "user_input", "overwrite_policy": "overwritable"}
	  }}],
	  "default_values": {"visa_type": "Single Entry"}
	}`), definition.FormatJSON)
	require.NoError(t, err)
	handoff := session.HandoffData{Country: "VNM"}
	s := completedSession(map[string]any{"email": "a@b.com"}, handoff)

	payload, err := NewAssembler().Assemble(s, handoff, def)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"country":   "VNM",
		"email":     "a@b.com",
		"visa_type": "Single Entry",
	}, payload.Fields)
	assert.Equal(t, []string{"email"}, payload.MandatoryFieldsPopulated)
}

func TestPrecedence(t *testing.T) {
	def := testDefinition(t)
	handoff := session.HandoffData{Country: "VNM", Purpose: "tourism", Extra: map[string]any{"email": "handoff@b.com"}}
	s := completedSession(map[string]any{
		"email":    "a@b.com",
		"country":  "JPN",
		"nickname": "",
	}, handoff)

	payload, err := NewAssembler().Assemble(s, handoff, def)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", payload.Fields["email"])
	assert.Equal(t, "JPN", payload.Fields["country"])
	assert.Equal(t, "tourism", payload.Fields["purpose"])
	assert.Equal(t, int64(90), payload.Fields["visa_validity_days"])
	assert.NotContains(t, payload.Fields, "nickname")
	// phone_number was never collected and nickname is blank
	assert.Equal(t, []string{"country", "email"}, payload.MandatoryFieldsPopulated)
}

func TestMandatoryFieldsListEveryCollectedValue(t *testing.T) {
	def := testDefinition(t)
	s := completedSession(map[string]any{
		"name":        "Jane Doe",
		"nationality": "VNM",
		"email":       "a@b.com",
		"nickname":    "jd",
		"alias":       nil,
	}, session.HandoffData{})

	payload, err := NewAssembler().Assemble(s, s.Handoff, def)
	require.NoError(t, err)
	// optional and document-only keys count as long as they hold a value
	assert.Equal(t, []string{"email", "name", "nationality", "nickname"}, payload.MandatoryFieldsPopulated)
}

func TestAssembleIsPure(t *testing.T) {
	def := testDefinition(t)
	handoff := session.HandoffData{Country: "VNM", TravelerCount: 2}
	s := completedSession(map[string]any{"email": "a@b.com", "phone_number": "0901"}, handoff)
	before := s.Clone()

	a := NewAssembler()
	first, err := a.Assemble(s, handoff, def)
	require.NoError(t, err)
	second, err := a.Assemble(s, handoff, def)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, s)
	assert.Equal(t, "XXX", def.DefaultValues["country"])

	firstJSON, err := first.JSON()
	require.NoError(t, err)
	secondJSON, err := second.JSON()
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
	assert.JSONEq(t, `{
	  "session_id": "s1",
	  "visa_type": "",
	  "fields": {
	    "country": "VNM",
	    "email": "a@b.com",
	    "phone_number": "0901",
	    "traveler_count": 2,
	    "visa_type": "Single Entry",
	    "visa_validity_days": 90
	  },
	  "mandatory_fields_populated": ["email", "phone_number"]
	}`, string(firstJSON))
}

func TestAssembleRequiresCompletion(t *testing.T) {
	def := testDefinition(t)
	s := completedSession(map[string]any{}, session.HandoffData{})
	s.Status = types.StatusInProgress

	_, err := NewAssembler().Assemble(s, s.Handoff, def)
	require.ErrorIs(t, err, types.ErrWorkflowNotComplete)

	s.Status = types.StatusExported
	payload, err := NewAssembler().Assemble(s, s.Handoff, def)
	require.NoError(t, err)
	assert.Equal(t, []string{}, payload.MandatoryFieldsPopulated)
}

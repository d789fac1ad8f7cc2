package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name   string         `json:"name"`
	Values map[string]any `json:"values"`
}

func TestPointerRoundTrip(t *testing.T) {
	p := Pointer("values", "a/b", "x~y")
	assert.Equal(t, "/values/a~1b/x~0y", p)
	assert.Equal(t, []string{"values", "a/b", "x~y"}, Segments(p))
	assert.Nil(t, Segments(""))
}

func TestAllowedMatch(t *testing.T) {
	allowed := AllowedPaths("/name", "/values/*")
	assert.True(t, allowed.Match("/name"))
	assert.True(t, allowed.Match("/values/email"))
	assert.False(t, allowed.Match("/values/email/nested"))
	assert.False(t, allowed.Match("/other"))
	assert.True(t, Allowed(nil).Match("/anything"))
}

func TestApply(t *testing.T) {
	current := record{Name: "a", Values: map[string]any{"keep": "x", "drop": "y"}}
	ops := []Operation{
		Replace(Pointer("values", "email"), "a@b.com"),
		Remove(Pointer("values", "drop")),
		Remove(Pointer("values", "missing")),
		Replace("/name", "b"),
	}
	next, err := Apply(current, ops, AllowedPaths("/name", "/values/*"))
	require.NoError(t, err)
	assert.Equal(t, "b", next.Name)
	assert.Equal(t, map[string]any{"keep": "x", "email": "a@b.com"}, next.Values)
	// input untouched
	assert.Equal(t, "a", current.Name)
	assert.Contains(t, current.Values, "drop")
}

func TestApplyRejectsDisallowedPath(t *testing.T) {
	current := record{Name: "a", Values: map[string]any{}}
	next, err := Apply(current, []Operation{
		Add(Pointer("values", "ok"), 1),
		Replace("/name", "b"),
	}, AllowedPaths("/values/*"))
	require.Error(t, err)
	assert.Equal(t, current, next)
}

func TestApplyIsAtomic(t *testing.T) {
	current := record{Name: "a", Values: map[string]any{}}
	next, err := Apply(current, []Operation{
		Add(Pointer("values", "ok"), 1),
		Add("/missing/deep", 2),
	}, nil)
	require.Error(t, err)
	assert.Empty(t, next.Values)
}

func TestFix(t *testing.T) {
	doc := []byte(`{"values":{"a":1}}`)
	fixed := Fix(doc, []Operation{
		Replace("/values/a", 2),
		Replace("/values/b", 3),
		Remove("/values/c"),
	})
	require.Len(t, fixed, 2)
	assert.Equal(t, OperationReplace, fixed[0].Op)
	assert.Equal(t, OperationAdd, fixed[1].Op)
}

func TestValidateRejectsUnknownOp(t *testing.T) {
	err := Validate([]Operation{{Op: "move", Path: "/a"}}, nil)
	assert.ErrorContains(t, err, "unsupported op")
}

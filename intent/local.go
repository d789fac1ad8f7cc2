package intent

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/tbxark/visaflow/types"
)

var (
	changePattern = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:change|update|set|correct|fix)\s+(?:my\s+|the\s+)?(.+?)\s+(?:to|=|as)\s+(.+?)\s*$`)
	pairPattern   = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 _-]*?)\s*[:=]\s*(.+?)\s*$`)
)

// LocalRecognizer classifies text without a model. It understands "field: value" lines,
// "change field to value" requests and resume keywords. A question that names no field
// is a deviation.
type LocalRecognizer struct {
	ResumeKeywords []string
}

func NewLocalRecognizer() *LocalRecognizer {
	return &LocalRecognizer{
		ResumeKeywords: []string{"resume", "continue", "let's continue", "lets continue", "go on", "back to the application", "where were we"},
	}
}

func (r *LocalRecognizer) RecognizeIntent(ctx context.Context, req *Request) (Classification, error) {
	text := strings.TrimSpace(req.Text)
	normalized := strings.ToLower(strings.TrimRight(text, ".!? "))
	if slices.Contains(r.ResumeKeywords, normalized) {
		return Classification{Intent: types.IntentResume}, nil
	}

	stageFields := map[string]bool{}
	var outstanding []string
	for _, field := range req.Context.Fields {
		stageFields[field.Name] = true
		if !field.Satisfied {
			outstanding = append(outstanding, field.Name)
		}
	}
	known := func(name string) bool {
		return stageFields[name] || slices.Contains(req.Context.Modifiable, name)
	}

	if m := changePattern.FindStringSubmatch(text); m != nil {
		if name := fieldName(m[1]); known(name) {
			return Classification{Intent: types.IntentModification, Fields: map[string]any{name: m[2]}}, nil
		}
	}

	pairs := map[string]any{}
	foreign := map[string]any{}
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ';' }) {
		m := pairPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := fieldName(m[1])
		switch {
		case stageFields[name]:
			pairs[name] = m[2]
		case known(name):
			foreign[name] = m[2]
		}
	}
	if len(pairs) > 0 {
		return Classification{Intent: types.IntentProgress, Fields: pairs}, nil
	}
	if len(foreign) == 1 {
		return Classification{Intent: types.IntentModification, Fields: foreign}, nil
	}

	if strings.HasSuffix(text, "?") {
		return Classification{Intent: types.IntentDeviation}, nil
	}
	if len(outstanding) == 1 && text != "" {
		return Classification{Intent: types.IntentProgress, Fields: map[string]any{outstanding[0]: text}}, nil
	}
	return Classification{Intent: types.IntentProgress}, nil
}

// fieldName turns "Passport Number" or "passport-number" into passport_number.
func fieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

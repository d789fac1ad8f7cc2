package engine

import (
	"regexp"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tbxark/visaflow/definition"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

var patterns sync.Map

func compiled(pattern string) *regexp.Regexp {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(pattern)
	patterns.Store(pattern, re)
	return re
}

// normalizeValue validates value against the field rules and returns the value to store.
// Text is trimmed and options are matched case-insensitively to their declared spelling.
func normalizeValue(field definition.FieldSpec, value any) (any, error) {
	switch value.(type) {
	case nil, string, bool, int, int64, float64:
	default:
		return nil, &types.ValidationError{Field: field.Name, Reason: "unsupported value type"}
	}

	text := strings.TrimSpace(session.Stringify(value))
	if s, ok := value.(string); ok {
		value = strings.TrimSpace(s)
	}
	if len(field.Options) > 0 && text != "" {
		for _, opt := range field.Options {
			if strings.EqualFold(opt, text) {
				text, value = opt, opt
				break
			}
		}
	}

	rules := make([]validation.Rule, 0, 4)
	if field.IsRequired() {
		rules = append(rules, validation.Required)
	}
	v := field.Validation
	if v.MinLength != nil || v.MaxLength != nil {
		lo, hi := 0, 0
		if v.MinLength != nil {
			lo = *v.MinLength
		}
		if v.MaxLength != nil {
			hi = *v.MaxLength
		}
		rules = append(rules, validation.RuneLength(lo, hi))
	}
	if len(field.Options) > 0 {
		opts := make([]any, len(field.Options))
		for i, opt := range field.Options {
			opts[i] = opt
		}
		rules = append(rules, validation.In(opts...))
	}
	if v.Pattern != "" {
		rules = append(rules, validation.Match(compiled(v.Pattern)))
	}

	if err := validation.Validate(text, rules...); err != nil {
		return nil, &types.ValidationError{Field: field.Name, Reason: err.Error()}
	}
	if text == "" {
		return nil, nil
	}
	return value, nil
}

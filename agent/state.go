package agent

import "context"

type sessionKeyContext struct{}

// WithSessionKey routes agent calls in ctx to the workflow session id.
func WithSessionKey(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKeyContext{}, id)
}

func SessionKeyFromContext(ctx context.Context) (string, bool) {
	value := ctx.Value(sessionKeyContext{})
	if value == nil {
		return "", false
	}
	key, ok := value.(string)
	return key, ok && key != ""
}

package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/schema"
)

var ErrNoSessionKey = errors.New("agent: no session key in context")

// Transcript keeps the recent messages of every session. System messages are always
// kept; of the rest only the last Limit survive. Limit <= 0 keeps everything.
type Transcript struct {
	Limit int

	mu    sync.Mutex
	turns map[string][]*schema.Message
}

func NewTranscript(limit int) *Transcript {
	return &Transcript{Limit: limit, turns: map[string][]*schema.Message{}}
}

// Append adds msgs to the session transcript, dropping nil messages and immediate
// repeats, and returns the trimmed transcript.
func (t *Transcript) Append(ctx context.Context, msgs ...*schema.Message) ([]*schema.Message, error) {
	key, ok := SessionKeyFromContext(ctx)
	if !ok {
		return nil, ErrNoSessionKey
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	history := t.turns[key]
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		if n := len(history); n > 0 && history[n-1].Role == msg.Role && history[n-1].Content == msg.Content {
			continue
		}
		history = append(history, msg)
	}
	history = t.trim(history)
	t.turns[key] = history
	return append([]*schema.Message(nil), history...), nil
}

func (t *Transcript) Load(ctx context.Context) []*schema.Message {
	key, ok := SessionKeyFromContext(ctx)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*schema.Message(nil), t.turns[key]...)
}

func (t *Transcript) Clear(ctx context.Context) {
	key, ok := SessionKeyFromContext(ctx)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.turns, key)
	t.mu.Unlock()
}

func (t *Transcript) trim(history []*schema.Message) []*schema.Message {
	if t.Limit <= 0 {
		return history
	}
	others := 0
	for _, m := range history {
		if m.Role != schema.System {
			others++
		}
	}
	drop := others - t.Limit
	if drop <= 0 {
		return history
	}
	out := make([]*schema.Message, 0, len(history)-drop)
	for _, m := range history {
		if m.Role != schema.System && drop > 0 {
			drop--
			continue
		}
		out = append(out, m)
	}
	return out
}

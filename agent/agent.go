// Package agent exposes the workflow router as an eino ADK agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"

	"github.com/tbxark/visaflow"
	"github.com/tbxark/visaflow/session"
	"github.com/tbxark/visaflow/types"
)

var _ adk.Agent = (*Agent)(nil)

// HandoffFunc supplies the handoff for a session the agent has not seen yet.
type HandoffFunc func(ctx context.Context, sessionID string) (session.HandoffData, bool)

type Agent struct {
	name        string
	description string
	router      *visaflow.Router
	handoff     HandoffFunc
}

type Option func(*Agent)

// WithHandoff lets the agent open unknown sessions on their first message.
func WithHandoff(fn HandoffFunc) Option {
	return func(a *Agent) {
		a.handoff = fn
	}
}

func NewAgent(name, description string, router *visaflow.Router, opts ...Option) *Agent {
	a := &Agent{
		name:        name,
		description: description,
		router:      router,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Name(ctx context.Context) string {
	return a.name
}

func (a *Agent) Description(ctx context.Context) string {
	return a.description
}

func (a *Agent) Run(ctx context.Context, input *adk.AgentInput, options ...adk.AgentRunOption) *adk.AsyncIterator[*adk.AgentEvent] {
	iter, gen := adk.NewAsyncIteratorPair[*adk.AgentEvent]()
	go func() {
		defer func() {
			e := recover()
			if e != nil {
				gen.Send(&adk.AgentEvent{
					Err: fmt.Errorf("recover from panic: %v", e),
				})
			}
			gen.Close()
		}()
		resp, err := a.respond(ctx, input)
		if err != nil {
			gen.Send(&adk.AgentEvent{Err: err})
			return
		}
		gen.Send(&adk.AgentEvent{
			AgentName: a.name,
			Output: &adk.AgentOutput{
				MessageOutput: &adk.MessageVariant{
					IsStreaming: false,
					Message:     schema.AssistantMessage(Render(resp), nil),
					Role:        schema.Assistant,
				},
				CustomizedOutput: resp,
			},
		})
	}()
	return iter
}

func (a *Agent) respond(ctx context.Context, input *adk.AgentInput) (*visaflow.Response, error) {
	id, ok := SessionKeyFromContext(ctx)
	if !ok {
		return nil, ErrNoSessionKey
	}
	text, ok := lastUserText(input)
	if !ok {
		return nil, errors.New("no user message in input")
	}

	resp, err := a.router.Handle(ctx, visaflow.Event{SessionID: id, Kind: visaflow.EventText, Text: text})
	if errors.Is(err, types.ErrSessionNotFound) && a.handoff != nil {
		handoff, known := a.handoff(ctx, id)
		if !known {
			return nil, err
		}
		return a.router.Open(ctx, id, handoff)
	}
	if err != nil {
		return nil, fmt.Errorf("handle message failed: %w", err)
	}
	return resp, nil
}

func lastUserText(input *adk.AgentInput) (string, bool) {
	if input == nil {
		return "", false
	}
	for i := len(input.Messages) - 1; i >= 0; i-- {
		msg := input.Messages[i]
		if msg != nil && msg.Role == schema.User {
			return strings.TrimSpace(msg.Content), true
		}
	}
	return "", false
}

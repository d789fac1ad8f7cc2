// Package structuredtest provides a scripted tool-calling chat model for tests.
package structuredtest

import (
	"context"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var ErrScriptExhausted = errors.New("structuredtest: no scripted reply left")

// Reply is one scripted model turn. Args is encoded as the arguments of a call to Tool.
type Reply struct {
	Tool    string
	Args    any
	Content string
	Err     error
}

type Call struct {
	Messages []*schema.Message
	Tools    []*schema.ToolInfo
}

// Model answers Generate with scripted replies in order.
type Model struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

var _ model.ToolCallingChatModel = (*Model)(nil)

func NewModel(replies ...Reply) *Model {
	return &Model{replies: replies}
}

func (m *Model) Script(replies ...Reply) {
	m.mu.Lock()
	m.replies = append(m.replies, replies...)
	m.mu.Unlock()
}

func (m *Model) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{}, opts...)
	m.mu.Lock()
	m.calls = append(m.calls, Call{Messages: input, Tools: options.Tools})
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	msg := schema.AssistantMessage(reply.Content, nil)
	if reply.Tool != "" {
		args, err := sonic.MarshalString(reply.Args)
		if err != nil {
			return nil, err
		}
		msg.ToolCalls = []schema.ToolCall{{
			ID:   "call_" + reply.Tool,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      reply.Tool,
				Arguments: args,
			},
		}}
	}
	return msg, nil
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

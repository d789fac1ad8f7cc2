// Package structured turns a chat model into a typed function by forcing a single tool
// call whose arguments are decoded into the output type.
package structured

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

var ErrNoToolCall = errors.New("structured: no tool call in model response")

type PromptBuilder[TInput any] func(ctx context.Context, input TInput) ([]*schema.Message, error)

type Chain[TInput, TOutput any] struct {
	promptBuilder PromptBuilder[TInput]
	chatModel     model.ToolCallingChatModel
	toolInfo      *schema.ToolInfo
}

func NewChain[TInput, TOutput any](
	chatModel model.ToolCallingChatModel,
	promptBuilder PromptBuilder[TInput],
	toolName string,
	toolDesc string,
) (*Chain[TInput, TOutput], error) {
	if chatModel == nil {
		return nil, errors.New("structured: chat model is nil")
	}
	toolInfo, err := utils.GoStruct2ToolInfo[TOutput](toolName, toolDesc)
	if err != nil {
		return nil, fmt.Errorf("convert tool info failed: %w", err)
	}
	return &Chain[TInput, TOutput]{
		promptBuilder: promptBuilder,
		chatModel:     chatModel,
		toolInfo:      toolInfo,
	}, nil
}

func (c *Chain[TInput, TOutput]) Invoke(ctx context.Context, input TInput, opts ...model.Option) (*TOutput, error) {
	messages, err := c.promptBuilder(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("build prompt failed: %w", err)
	}
	return c.Generate(ctx, messages, opts...)
}

// Generate sends prebuilt messages and decodes the forced tool call.
func (c *Chain[TInput, TOutput]) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*TOutput, error) {
	opts = append([]model.Option{
		model.WithTools([]*schema.ToolInfo{c.toolInfo}),
		model.WithToolChoice(schema.ToolChoiceForced, c.toolInfo.Name),
	}, opts...)
	response, err := c.chatModel.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("call model failed: %w", err)
	}
	return Decode[TOutput](response, c.toolInfo.Name)
}

func (c *Chain[TInput, TOutput]) ToolInfo() *schema.ToolInfo {
	return c.toolInfo
}

// Decode reads the arguments of the call to toolName. A response with a single call
// under another name is accepted; some providers rename forced tools.
func Decode[TOutput any](response *schema.Message, toolName string) (*TOutput, error) {
	if response == nil || len(response.ToolCalls) == 0 {
		content := ""
		if response != nil {
			content = response.Content
		}
		return nil, fmt.Errorf("%w: %s", ErrNoToolCall, content)
	}
	call := response.ToolCalls[0]
	for _, candidate := range response.ToolCalls {
		if candidate.Function.Name == toolName {
			call = candidate
			break
		}
	}
	var result TOutput
	if err := sonic.UnmarshalString(call.Function.Arguments, &result); err != nil {
		return nil, fmt.Errorf("parse ToolCall arguments failed: %w", err)
	}
	return &result, nil
}

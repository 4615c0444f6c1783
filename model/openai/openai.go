// Package openai adapts the OpenAI Chat Completions API to the ConvFlow
// continuation protocol. Tool calls map onto ToolInvocations (the tool call
// id is the invocation id) and continuations are replayed as an assistant
// tool-call message followed by a tool message.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/model"
)

// Options configure the OpenAI provider adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Provider wraps the OpenAI Chat Completions API behind the model.Provider
// interface. The pending tool call is remembered per session so a
// continuation can reconstruct the assistant half-turn the API expects.
type Provider struct {
	client *openai.Client
	opts   Options

	mu      sync.Mutex
	pending map[string]openai.ChatCompletionMessageToolCallParam
}

// NewProvider creates a provider using the official client.
func NewProvider(optFns ...func(o *Options)) *Provider {
	client := openai.NewClient()
	return NewProviderFromClient(&client, optFns...)
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{
		client:  client,
		opts:    opts,
		pending: make(map[string]openai.ChatCompletionMessageToolCallParam),
	}
}

// Send implements model.Provider.
func (p *Provider) Send(ctx context.Context, req model.Request) (core.TurnResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:               p.opts.Model,
		Messages:            p.buildMessages(req),
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}
	if len(req.Capabilities) > 0 {
		params.Tools = buildTools(req.Capabilities)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return core.TurnResult{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return core.TurnResult{}, model.NewPermanentError("openai api: empty choices")
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		args := map[string]any{}
		if call.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		}
		p.remember(req.SessionID, openai.ChatCompletionMessageToolCallParam{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
		return core.RequiresTool(core.ToolInvocation{
			ID:         call.ID,
			Capability: call.Function.Name,
			Parameters: args,
		}), nil
	}

	p.forget(req.SessionID)
	return core.Done(msg.Content), nil
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: p.opts.Model, Provider: "openai"}
}

func (p *Provider) remember(sessionID string, call openai.ChatCompletionMessageToolCallParam) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[sessionID] = call
}

func (p *Provider) forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, sessionID)
}

func (p *Provider) takePending(sessionID string) (openai.ChatCompletionMessageToolCallParam, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.pending[sessionID]
	return call, ok
}

func (p *Provider) buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instruction != "" {
		messages = append(messages, openai.SystemMessage(req.Instruction))
	}
	for _, m := range req.PriorState {
		if m.Text == "" {
			continue
		}
		switch m.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Text))
		case core.RoleAssistant, core.RoleToolUsage:
			messages = append(messages, openai.AssistantMessage(m.Text))
		default:
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}

	if cont := req.Continuation; cont != nil {
		body := cont.Result.Body
		if cont.Result.Failed {
			body = fmt.Sprintf("Tool execution failed: %s", body)
		}
		if call, ok := p.takePending(req.SessionID); ok {
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{call},
				},
			})
		}
		messages = append(messages, openai.ToolMessage(body, cont.InvocationID))
		return messages
	}

	if req.InputText != "" {
		messages = append(messages, openai.UserMessage(req.InputText))
	}
	return messages
}

func buildTools(specs []core.CapabilitySpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(specs))
	for i, spec := range specs {
		properties := map[string]any{}
		var required []string
		for _, param := range spec.Parameters {
			prop := map[string]any{"type": param.Type}
			if param.Description != "" {
				prop["description"] = param.Description
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": properties,
					"required":   required,
				},
			},
		}
	}
	return tools
}

// classifyError maps SDK failures onto ProviderError for the retry policy.
func classifyError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 408, 429, 500, 502, 503:
			return model.NewTransientError("openai api: %v", err)
		default:
			return model.NewPermanentError("openai api: %v", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTransientError("openai api timeout: %v", err)
	}
	return fmt.Errorf("openai api error: %w", err)
}

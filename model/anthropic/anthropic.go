// Package anthropic adapts the Anthropic Messages API to the ConvFlow
// continuation protocol. Tool-use content blocks map onto ToolInvocations
// (the tool_use id is the invocation id) and continuations are replayed as
// assistant tool_use + user tool_result block pairs.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/model"
)

// Options configures the Anthropic provider adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Provider wraps the Anthropic Messages API behind the model.Provider
// interface. It remembers the pending tool_use block per session so a
// continuation can reconstruct the assistant half-turn the API expects.
type Provider struct {
	client *anthropic.Client
	opts   Options

	mu      sync.Mutex
	pending map[string]anthropic.ContentBlockParamUnion // sessionID -> last tool_use block
}

// NewProvider creates a provider using the official client.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{
		client:  &client,
		opts:    opts,
		pending: make(map[string]anthropic.ContentBlockParamUnion),
	}
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts, pending: make(map[string]anthropic.ContentBlockParamUnion)}
}

// Send implements model.Provider.
func (p *Provider) Send(ctx context.Context, req model.Request) (core.TurnResult, error) {
	params := anthropic.MessageNewParams{
		Model:       p.opts.Model,
		Messages:    p.buildMessages(req),
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if req.Instruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instruction}}
	}
	if len(req.Capabilities) > 0 {
		params.Tools = buildTools(req.Capabilities)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return core.TurnResult{}, classifyError(err)
	}

	var text string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			params := map[string]any{}
			if toolBlock.Input != nil {
				if raw, err := json.Marshal(toolBlock.Input); err == nil {
					_ = json.Unmarshal(raw, &params)
				}
			}
			p.remember(req.SessionID, toolBlock)
			return core.RequiresTool(core.ToolInvocation{
				ID:         toolBlock.ID,
				Capability: toolBlock.Name,
				Parameters: params,
			}), nil
		}
	}

	p.forget(req.SessionID)
	return core.Done(text), nil
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: string(p.opts.Model), Provider: "anthropic"}
}

func (p *Provider) remember(sessionID string, block anthropic.ToolUseBlock) {
	var input any
	if block.Input != nil {
		if raw, err := json.Marshal(block.Input); err == nil {
			_ = json.Unmarshal(raw, &input)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[sessionID] = anthropic.NewToolUseBlock(block.ID, input, block.Name)
}

func (p *Provider) forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, sessionID)
}

func (p *Provider) takePending(sessionID string) (anthropic.ContentBlockParamUnion, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	block, ok := p.pending[sessionID]
	return block, ok
}

// buildMessages converts the envelope into Messages API turns. The projected
// history already merged consecutive roles, so tool half-turns arrive as
// plain text and map onto assistant/user turns.
func (p *Provider) buildMessages(req model.Request) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, m := range req.PriorState {
		if m.Text == "" {
			continue
		}
		switch m.Role {
		case core.RoleAssistant, core.RoleToolUsage:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		case core.RoleSystem:
			// Instruction is passed via params.System; skip here.
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}

	if cont := req.Continuation; cont != nil {
		if toolUse, ok := p.takePending(req.SessionID); ok {
			messages = append(messages, anthropic.NewAssistantMessage(toolUse))
		}
		messages = append(messages, anthropic.NewUserMessage(
			anthropic.NewToolResultBlock(cont.InvocationID, cont.Result.Body, cont.Result.Failed),
		))
		return messages
	}

	if req.InputText != "" {
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.InputText)))
	}
	return messages
}

func buildTools(specs []core.CapabilitySpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(specs))
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
		schema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: properties,
			Required:   required,
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, spec.Name)
	}
	return tools
}

// classifyError maps SDK failures onto ProviderError. Rate limiting, overload
// and timeout responses are transient and eligible for retry.
func classifyError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 408, 429, 500, 502, 503, 529:
			return model.NewTransientError("anthropic api: %v", err)
		default:
			return model.NewPermanentError("anthropic api: %v", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTransientError("anthropic api timeout: %v", err)
	}
	return fmt.Errorf("anthropic api error: %w", err)
}

// Package protocol implements the continuation protocol client: the
// turn-by-turn exchange with a model provider including the tool loop. One
// Run call drives a single workflow branch: AwaitingModel -> {Completed |
// ToolRequested}; ToolRequested -> ToolExecuting -> AwaitingModel until the
// provider produces final text.
//
// The client pairs every issued ToolInvocation with exactly one ToolResult
// before the turn can complete, correlates results by invocation id, and
// retries transient provider failures with bounded exponential backoff.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
	"github.com/hupe1980/convflow/memory"
	"github.com/hupe1980/convflow/model"
	"github.com/hupe1980/convflow/stream"
	"github.com/hupe1980/convflow/tool"
)

const (
	// DefaultMaxRetries bounds retries of one provider request after a
	// transient failure.
	DefaultMaxRetries = 1
	// DefaultMaxToolRounds bounds tool invocations within one turn so a
	// looping model cannot spin forever.
	DefaultMaxToolRounds = 8
	// staleResultLimit bounds how many mis-correlated results are ignored
	// before the invocation is reported back as failed.
	staleResultLimit = 3
)

// ToolOutcome is a runner's normalized verdict for one invocation. Skipped
// marks an unreachable endpoint: the capability degrades for the rest of the
// turn instead of aborting it.
type ToolOutcome struct {
	Result  core.ToolResult
	Skipped bool
}

// ToolRunner executes one tool invocation. Implementations must echo the
// invocation id in the result; the client ignores results carrying a stale
// id. A runner never returns a Go error: failures are encoded in the outcome.
type ToolRunner interface {
	Run(ctx context.Context, inv core.ToolInvocation) ToolOutcome
}

// ExecutorRunner adapts the tool executor to the ToolRunner contract.
type ExecutorRunner struct {
	Executor *tool.Executor
}

var _ ToolRunner = (*ExecutorRunner)(nil)

// Run implements ToolRunner.
func (r *ExecutorRunner) Run(ctx context.Context, inv core.ToolInvocation) ToolOutcome {
	res := r.Executor.Execute(ctx, inv.Capability, inv.Parameters)
	out := ToolOutcome{Result: core.ToolResult{
		InvocationID: inv.ID,
		Capability:   inv.Capability,
	}}
	switch res.Status {
	case tool.StatusOK:
		out.Result.Text = res.Text
	case tool.StatusSkipped:
		out.Skipped = true
		out.Result.Error = res.Reason
	default:
		out.Result.Error = res.Reason
	}
	return out
}

// Turn describes one protocol run for a workflow branch.
type Turn struct {
	// State is the in-flight turn state; the client records the latest
	// invocation and skipped capabilities on it.
	State *core.WorkflowState
	// Node names the originating workflow node for thought events.
	Node string
	// Instruction is the branch's system instruction.
	Instruction string
	// Capabilities advertised to the model for this branch.
	Capabilities []core.CapabilitySpec
}

// Options configures a Client.
type Options struct {
	// Memory records tool half-turns; nil disables recording.
	Memory memory.Store
	// Broker receives thought events; nil disables publishing.
	Broker *stream.Broker
	// Limiter gates provider calls; nil disables rate limiting.
	Limiter *rate.Limiter
	// MaxRetries bounds retries of a transient provider failure.
	MaxRetries uint64
	// MaxToolRounds bounds tool invocations per turn.
	MaxToolRounds int
	// InitialBackoff seeds the exponential backoff between retries.
	InitialBackoff time.Duration
	// Logger for protocol diagnostics.
	Logger logging.Logger
}

// Client drives the continuation protocol against one provider. Safe for
// concurrent use across sessions; each Run owns its turn state exclusively.
type Client struct {
	provider model.Provider
	runner   ToolRunner

	mem            memory.Store
	broker         *stream.Broker
	limiter        *rate.Limiter
	maxRetries     uint64
	maxToolRounds  int
	initialBackoff time.Duration
	logger         logging.Logger
}

// NewClient constructs a protocol client. runner may be nil for branches
// that advertise no capabilities; an invocation without a runner is reported
// back to the model as failed.
func NewClient(provider model.Provider, runner ToolRunner, optFns ...func(o *Options)) *Client {
	opts := Options{
		MaxRetries:    DefaultMaxRetries,
		MaxToolRounds: DefaultMaxToolRounds,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Client{
		provider:       provider,
		runner:         runner,
		mem:            opts.Memory,
		broker:         opts.Broker,
		limiter:        opts.Limiter,
		maxRetries:     opts.MaxRetries,
		maxToolRounds:  opts.MaxToolRounds,
		initialBackoff: opts.InitialBackoff,
		logger:         logging.OrNoOp(opts.Logger),
	}
}

// Run executes one protocol exchange and returns the final answer text. Tool
// failures never abort the run; they are fed back to the model as failed
// function results. A provider failure that survives the retry policy is
// returned as an error after an error thought event, leaving the caller to
// phrase the user-visible text.
func (c *Client) Run(ctx context.Context, turn Turn) (string, error) {
	state := turn.State
	var prior []core.PromptMessage
	if c.mem != nil {
		prior, _ = c.mem.ProviderState(state.SessionID)
	}

	req := model.Request{
		Capabilities: turn.Capabilities,
		Instruction:  turn.Instruction,
		InputText:    state.Input,
		SessionID:    state.SessionID,
		PriorState:   prior,
	}

	for round := 0; round <= c.maxToolRounds; round++ {
		res, err := c.send(ctx, req)
		if err != nil {
			c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtError, core.CategoryError, turn.Node,
				"The model provider is currently unavailable."))
			return "", fmt.Errorf("provider exchange failed: %w", err)
		}

		switch res.Kind {
		case core.TurnDone:
			c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtResult, core.CategoryResult, turn.Node,
				res.Text))
			return res.Text, nil

		case core.TurnFailed:
			c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtError, core.CategoryError, turn.Node,
				"The model could not complete this request."))
			return "", fmt.Errorf("provider reported turn failure: %w", res.Err)

		case core.TurnRequiresTool:
			inv := *res.Invocation
			state.Invocation = &inv
			req = c.runTool(ctx, turn, inv, req)

		default:
			return "", fmt.Errorf("unknown turn result kind %d", res.Kind)
		}
	}

	c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtError, core.CategoryError, turn.Node,
		"Stopped after too many tool invocations."))
	return "", fmt.Errorf("tool round limit %d exceeded", c.maxToolRounds)
}

// runTool executes one invocation and builds the continuation request: same
// invocation id, function result, empty input text.
func (c *Client) runTool(ctx context.Context, turn Turn, inv core.ToolInvocation, prev model.Request) model.Request {
	state := turn.State
	c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtThinking, core.CategoryTool, turn.Node,
		fmt.Sprintf("Invoking %s", inv.Capability)).WithDetails(map[string]any{
		"invocation_id": inv.ID,
		"parameters":    inv.Parameters,
	}))
	if c.mem != nil {
		c.mem.AddToolUsage(state.SessionID, inv.Capability, inv.Parameters)
	}

	out, ok := c.awaitResult(ctx, inv)
	result := model.FunctionResult{Capability: inv.Capability, Group: inv.Group}

	switch {
	case !ok:
		result.Failed = true
		result.Body = fmt.Sprintf("no correlated result for capability %q", inv.Capability)
		c.logger.Error("protocol.tool.uncorrelated", "capability", inv.Capability, "invocation_id", inv.ID)

	case out.Skipped:
		state.MarkSkipped(inv.Capability)
		result.Failed = true
		result.Body = out.Result.Error
		c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtThinking, core.CategoryTool, turn.Node,
			fmt.Sprintf("Skipping %s: tool server unavailable", inv.Capability)))

	case out.Result.Failed():
		result.Failed = true
		result.Body = out.Result.Error
		c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtThinking, core.CategoryTool, turn.Node,
			fmt.Sprintf("%s reported an error", inv.Capability)))

	default:
		result.Body = out.Result.Text
		c.publish(state.SessionID, core.NewThoughtEvent(core.ThoughtThinking, core.CategoryTool, turn.Node,
			fmt.Sprintf("%s completed", inv.Capability)))
	}

	if c.mem != nil {
		c.mem.AddToolResult(state.SessionID, inv.Capability, result.Body)
	}

	return model.Request{
		Capabilities: prev.Capabilities,
		Instruction:  prev.Instruction,
		InputText:    "",
		SessionID:    prev.SessionID,
		PriorState:   prev.PriorState,
		Continuation: &model.Continuation{InvocationID: inv.ID, Result: result},
	}
}

// awaitResult obtains the correlated result for inv. Results carrying a stale
// invocation id are rejected and the runner is asked again, bounded by
// staleResultLimit.
func (c *Client) awaitResult(ctx context.Context, inv core.ToolInvocation) (ToolOutcome, bool) {
	if c.runner == nil {
		return ToolOutcome{}, false
	}
	for attempt := 0; attempt < staleResultLimit; attempt++ {
		out := c.runner.Run(ctx, inv)
		if out.Result.InvocationID == "" || out.Result.InvocationID == inv.ID {
			return out, true
		}
		c.logger.Warn("protocol.tool.stale_result",
			"capability", inv.Capability,
			"expected_id", inv.ID,
			"received_id", out.Result.InvocationID)
	}
	return ToolOutcome{}, false
}

// send performs one provider exchange with rate limiting and bounded
// exponential backoff. Only transient provider errors are retried.
func (c *Client) send(ctx context.Context, req model.Request) (core.TurnResult, error) {
	operation := func() (core.TurnResult, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return core.TurnResult{}, backoff.Permanent(err)
			}
		}
		res, err := c.provider.Send(ctx, req)
		if err != nil {
			if model.IsTransient(err) {
				c.logger.Warn("protocol.provider.transient", "session_id", req.SessionID, "error", err.Error())
				return core.TurnResult{}, err
			}
			return core.TurnResult{}, backoff.Permanent(err)
		}
		return res, nil
	}

	bo := backoff.NewExponentialBackOff()
	if c.initialBackoff > 0 {
		bo.InitialInterval = c.initialBackoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
	return backoff.RetryWithData(operation, policy)
}

func (c *Client) publish(sessionID string, ev core.ThoughtEvent) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(sessionID, ev)
}

package tool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hupe1980/convflow/internal/util"
	"github.com/hupe1980/convflow/logging"
)

// DefaultCallTimeout bounds one tool-RPC round trip.
const DefaultCallTimeout = 30 * time.Second

// Status classifies an execution outcome.
type Status string

// Execution outcomes. StatusSkipped marks an unreachable endpoint (the
// capability degrades without aborting the turn); StatusError marks a tool
// that ran but reported a failure, which is fed back to the model.
const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Result is the normalized outcome of one capability execution.
type Result struct {
	Status Status `json:"status"`
	Text   string `json:"result,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// rpcRequest is the tool-RPC wire envelope.
type rpcRequest struct {
	Capability string         `json:"capability"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// rpcResponse is the tool-RPC reply: exactly one of Result or Error is set.
type rpcResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Executor resolves capabilities against the registry and performs the
// remote tool-RPC call. Safe for concurrent use across sessions; the resty
// client pools connections to the tool servers.
type Executor struct {
	registry *Registry
	client   *resty.Client
	timeout  time.Duration
	logger   logging.Logger
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Timeout bounds each tool-RPC call. A timeout is reported as a tool
	// execution error, not a connection failure.
	Timeout time.Duration
	// Logger for call diagnostics.
	Logger logging.Logger
}

// NewExecutor constructs an Executor bound to a registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{Timeout: DefaultCallTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCallTimeout
	}
	client := resty.New().SetTimeout(opts.Timeout)
	return &Executor{
		registry: registry,
		client:   client,
		timeout:  opts.Timeout,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Execute resolves the capability, coerces declared parameter types, and
// performs the remote call. Never returns a Go error: every failure mode is
// encoded in the Result so callers branch on Status.
func (e *Executor) Execute(ctx context.Context, capability string, params map[string]any) Result {
	ep, ok := e.registry.Resolve(capability)
	if !ok {
		e.logger.Warn("tool.execute.unresolved", "capability", capability)
		return Result{Status: StatusSkipped, Reason: fmt.Sprintf("no active endpoint for capability %q", capability)}
	}

	coerced, err := e.coerceParams(capability, params)
	if err != nil {
		return Result{Status: StatusError, Reason: err.Error()}
	}

	start := time.Now()
	var out rpcResponse
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(rpcRequest{Capability: capability, Parameters: coerced}).
		SetResult(&out).
		SetError(&out).
		Post(ep.Hostname + "/invoke")
	dur := time.Since(start)

	switch {
	case err != nil && ctx.Err() == nil && isTimeout(err):
		// Tool-server timeout: the tool may have run; treat as execution
		// error so the model can re-plan.
		e.logger.Warn("tool.execute.timeout", "capability", capability, "hostname", ep.Hostname, "duration_ms", dur.Milliseconds())
		return Result{Status: StatusError, Reason: fmt.Sprintf("capability %q timed out", capability)}
	case err != nil:
		// Connection failure: server unreachable, degrade to skipped.
		e.logger.Warn("tool.execute.unreachable", "capability", capability, "hostname", ep.Hostname, "error", err.Error())
		return Result{Status: StatusSkipped, Reason: fmt.Sprintf("tool server %s unreachable: %v", ep.Hostname, err)}
	case resp.IsError() || out.Error != "":
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("tool server returned status %d", resp.StatusCode())
		}
		e.logger.Info("tool.execute.failed", "capability", capability, "duration_ms", dur.Milliseconds(), "error", reason)
		return Result{Status: StatusError, Reason: reason}
	default:
		e.logger.Info("tool.execute.completed", "capability", capability, "duration_ms", dur.Milliseconds())
		return Result{Status: StatusOK, Text: out.Result}
	}
}

// coerceParams applies declared parameter types from the capability schema.
// Unknown parameters pass through untouched; capabilities without a schema
// skip coercion entirely.
func (e *Executor) coerceParams(capability string, params map[string]any) (map[string]any, error) {
	spec, ok := e.registry.Spec(capability)
	if !ok || len(spec.Parameters) == 0 {
		return params, nil
	}
	declared := make(map[string]string, len(spec.Parameters))
	for _, p := range spec.Parameters {
		declared[p.Name] = p.Type
	}
	out := make(map[string]any, len(params))
	for name, value := range params {
		typ, ok := declared[name]
		if !ok {
			out[name] = value
			continue
		}
		coerced, err := util.Coerce(value, typ)
		if err != nil {
			return nil, &util.ValidationError{Field: name, Value: value, Message: err.Error()}
		}
		out[name] = coerced
	}
	return out, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

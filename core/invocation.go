package core

import "github.com/google/uuid"

// NewID generates a unique identifier for turns, events and artifacts.
func NewID() string { return uuid.NewString() }

// ToolInvocation is a provider-issued request to execute a capability. The ID
// is assigned by the provider and must be echoed back unchanged in the
// corresponding result; it is the correlation key of the continuation
// protocol.
type ToolInvocation struct {
	ID         string         `json:"invocationId"`
	Capability string         `json:"capability"`
	Group      string         `json:"actionGroup,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolResult pairs an invocation with its outcome. Exactly one result is
// produced per invocation that reached the executor; Error is set when the
// tool ran but reported a failure.
type ToolResult struct {
	InvocationID string `json:"invocationId"`
	Capability   string `json:"capability"`
	Text         string `json:"result,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Failed reports whether the result carries a tool-level failure.
func (r ToolResult) Failed() bool { return r.Error != "" }

// CapabilitySpec declares one capability advertised to the model: its name,
// namespace, description and typed parameter list. The declared parameter
// types drive coercion before the tool-RPC call.
type CapabilitySpec struct {
	Name        string      `json:"name"`
	Group       string      `json:"actionGroup,omitempty"`
	Description string      `json:"description,omitempty"`
	Parameters  []ParamSpec `json:"parameters,omitempty"`
}

// ParamSpec declares a single capability parameter. Type is one of string,
// integer, number, boolean or array.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// TurnResultKind discriminates the TurnResult sum type.
type TurnResultKind int

// TurnResult kinds. Exactly one of the payload fields is meaningful per kind.
const (
	// TurnDone: the provider produced final answer text; the turn is over.
	TurnDone TurnResultKind = iota
	// TurnRequiresTool: the provider paused and requests a tool invocation.
	TurnRequiresTool
	// TurnFailed: the provider call failed terminally.
	TurnFailed
)

// TurnResult is the explicit outcome of one provider exchange. It replaces
// exception-driven "tool required" signaling with an exhaustive sum type:
// Done(text) | RequiresTool(invocation) | Failed(err).
type TurnResult struct {
	Kind       TurnResultKind
	Text       string
	Invocation *ToolInvocation
	Err        error
}

// Done builds a final-answer result.
func Done(text string) TurnResult { return TurnResult{Kind: TurnDone, Text: text} }

// RequiresTool builds a paused-for-tool result.
func RequiresTool(inv ToolInvocation) TurnResult {
	return TurnResult{Kind: TurnRequiresTool, Invocation: &inv}
}

// Failed builds a terminal failure result.
func Failed(err error) TurnResult { return TurnResult{Kind: TurnFailed, Err: err} }

// Package model defines the continuation envelope exchanged with a model
// provider and the Provider interface the protocol client drives. A provider
// answers each request with either final text or a structured tool request;
// continuations echo the provider-assigned invocation id together with the
// function result and carry no new user input.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/convflow/core"
)

// FunctionResult wraps a tool outcome for a continuation request. Failed
// marks a tool-level error; the body then explains the failure so the model
// can adapt its plan.
type FunctionResult struct {
	Capability string `json:"capability"`
	Group      string `json:"namespace,omitempty"`
	Body       string `json:"responseBody"`
	Failed     bool   `json:"failed,omitempty"`
}

// Continuation resumes a paused turn. InvocationID must equal the id the
// provider assigned to the pending tool request.
type Continuation struct {
	InvocationID string         `json:"invocationId"`
	Result       FunctionResult `json:"functionResult"`
}

// Request is the provider-facing envelope. On an initial request InputText
// holds the user's message and Continuation is nil; on a continuation request
// InputText is empty and Continuation carries the tool result.
type Request struct {
	Capabilities []core.CapabilitySpec `json:"capabilities,omitempty"`
	Instruction  string                `json:"instruction,omitempty"`
	InputText    string                `json:"inputText"`
	SessionID    string                `json:"sessionId"`
	PriorState   []core.PromptMessage  `json:"priorState,omitempty"`
	Continuation *Continuation         `json:"continuation,omitempty"`
}

// Info describes a provider implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Provider is the minimal interface the protocol client requires. Send must
// respect ctx cancellation and return a ProviderError (wrapped or direct) for
// transport-level failures so the retry policy can classify them.
type Provider interface {
	Send(ctx context.Context, req Request) (core.TurnResult, error)

	// Info returns metadata about the provider implementation.
	Info() Info
}

// ProviderError is a classified provider failure. Transient errors (rate
// limiting, backoff signals, timeouts) are eligible for the bounded retry in
// the protocol client; anything else surfaces immediately.
type ProviderError struct {
	Message   string
	Transient bool
}

// Error implements the error interface.
func (e *ProviderError) Error() string { return fmt.Sprintf("provider error: %s", e.Message) }

// NewTransientError builds a retry-eligible provider error.
func NewTransientError(format string, args ...any) *ProviderError {
	return &ProviderError{Message: fmt.Sprintf(format, args...), Transient: true}
}

// NewPermanentError builds a non-retryable provider error.
func NewPermanentError(format string, args ...any) *ProviderError {
	return &ProviderError{Message: fmt.Sprintf(format, args...), Transient: false}
}

// IsTransient reports whether err wraps a transient ProviderError.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

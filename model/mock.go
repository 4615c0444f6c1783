package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/convflow/core"
)

// MockProvider is a deterministic in-memory Provider for tests and examples.
// It replays a scripted sequence of TurnResults, or falls back to echoing the
// input when the script is exhausted.
type MockProvider struct {
	mu       sync.Mutex
	script   []core.TurnResult
	requests []Request
	errs     []error
}

// NewMockProvider constructs an empty mock.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Enqueue appends a scripted result returned by the next Send call.
func (m *MockProvider) Enqueue(results ...core.TurnResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// EnqueueError appends a scripted transport error. Errors are consumed before
// scripted results.
func (m *MockProvider) EnqueueError(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// Requests returns a copy of every request observed so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Send implements Provider.
func (m *MockProvider) Send(ctx context.Context, req Request) (core.TurnResult, error) {
	if err := ctx.Err(); err != nil {
		return core.TurnResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return core.TurnResult{}, err
	}
	if len(m.script) > 0 {
		res := m.script[0]
		m.script = m.script[1:]
		return res, nil
	}
	return core.Done(fmt.Sprintf("Mock response to: %s", req.InputText)), nil
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return Info{Name: "mock", Provider: "mock"} }

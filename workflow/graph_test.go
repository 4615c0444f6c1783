package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convflow/core"
)

type stubNode struct {
	name string
	run  func(ctx context.Context, state *core.WorkflowState) error
}

func (n *stubNode) Name() string { return n.name }

func (n *stubNode) Run(ctx context.Context, state *core.WorkflowState) error {
	return n.run(ctx, state)
}

func TestGraphRunsNodesSequentially(t *testing.T) {
	var order []string
	g := NewGraph(func(o *Options) { o.Entry = "first" })
	g.AddNode(&stubNode{name: "first", run: func(_ context.Context, s *core.WorkflowState) error {
		order = append(order, "first")
		s.Next = "second"
		return nil
	}})
	g.AddNode(&stubNode{name: "second", run: func(_ context.Context, s *core.WorkflowState) error {
		order = append(order, "second")
		s.Answer = "done"
		s.Next = Terminal
		return nil
	}})

	state, err := g.Run(context.Background(), core.NewWorkflowState("s1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "done", state.Answer)
}

func TestGraphNodeErrorBecomesApology(t *testing.T) {
	g := NewGraph(func(o *Options) { o.Entry = "boom" })
	g.AddNode(&stubNode{name: "boom", run: func(_ context.Context, _ *core.WorkflowState) error {
		return errors.New("node failure")
	}})

	state, err := g.Run(context.Background(), core.NewWorkflowState("s1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, ApologyAnswer, state.Answer)
}

func TestGraphNodePanicBecomesApology(t *testing.T) {
	g := NewGraph(func(o *Options) { o.Entry = "boom" })
	g.AddNode(&stubNode{name: "boom", run: func(_ context.Context, _ *core.WorkflowState) error {
		panic("unexpected")
	}})

	state, err := g.Run(context.Background(), core.NewWorkflowState("s1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, ApologyAnswer, state.Answer)
}

func TestGraphUnknownNodeBecomesApology(t *testing.T) {
	g := NewGraph(func(o *Options) { o.Entry = "present" })
	g.AddNode(&stubNode{name: "present", run: func(_ context.Context, s *core.WorkflowState) error {
		s.Next = "absent"
		return nil
	}})

	state, err := g.Run(context.Background(), core.NewWorkflowState("s1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, ApologyAnswer, state.Answer)
}

func TestGraphStepLimit(t *testing.T) {
	g := NewGraph(func(o *Options) {
		o.Entry = "loop"
		o.MaxSteps = 3
	})
	g.AddNode(&stubNode{name: "loop", run: func(_ context.Context, s *core.WorkflowState) error {
		s.Next = "loop"
		return nil
	}})

	state, err := g.Run(context.Background(), core.NewWorkflowState("s1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, ApologyAnswer, state.Answer)
}

func TestGraphContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := NewGraph(func(o *Options) { o.Entry = "never" })
	g.AddNode(&stubNode{name: "never", run: func(_ context.Context, _ *core.WorkflowState) error {
		t.Fatal("node must not run after cancellation")
		return nil
	}})

	_, err := g.Run(ctx, core.NewWorkflowState("s1", "hi"))
	assert.ErrorIs(t, err, context.Canceled)
}

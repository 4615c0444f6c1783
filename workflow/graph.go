// Package workflow implements the turn state machine: a directed graph of
// named nodes threaded by a single WorkflowState. The entry Router inspects
// the message, the Classifier picks a branch, and the branch node produces
// the final answer. Nodes run strictly sequentially within a turn; a node
// failure is converted into a terminal apology state instead of aborting the
// session.
package workflow

import (
	"context"
	"fmt"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
	"github.com/hupe1980/convflow/stream"
)

// Terminal is the next-pointer value that ends a turn.
const Terminal = "__terminal__"

// Reserved node names. Branch nodes are registered under their route labels.
const (
	NodeRouter     = "router"
	NodeClassifier = "classifier"
)

// ApologyAnswer is the terminal answer for a turn whose node failed.
const ApologyAnswer = "I'm sorry, something went wrong while processing your request. Please try again."

// defaultMaxSteps bounds node transitions per turn against routing cycles.
const defaultMaxSteps = 16

// Node is one stage of the workflow graph. Run mutates the state and sets
// state.Next to another node name or Terminal.
type Node interface {
	Name() string
	Run(ctx context.Context, state *core.WorkflowState) error
}

// Options configures a Graph.
type Options struct {
	// Entry names the first node of every turn. Defaults to NodeRouter.
	Entry string
	// MaxSteps bounds node transitions per turn.
	MaxSteps int
	// Broker receives error thought events; nil disables publishing.
	Broker *stream.Broker
	// Logger for executor diagnostics.
	Logger logging.Logger
}

// Graph executes registered nodes strictly sequentially for one turn. Safe
// for concurrent use across sessions: the graph itself is read-only after
// construction and all mutable state lives in the WorkflowState.
type Graph struct {
	nodes    map[string]Node
	entry    string
	maxSteps int
	broker   *stream.Broker
	logger   logging.Logger
}

// NewGraph constructs an empty graph.
func NewGraph(optFns ...func(o *Options)) *Graph {
	opts := Options{Entry: NodeRouter, MaxSteps: defaultMaxSteps}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Entry == "" {
		opts.Entry = NodeRouter
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	return &Graph{
		nodes:    make(map[string]Node),
		entry:    opts.Entry,
		maxSteps: opts.MaxSteps,
		broker:   opts.Broker,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// AddNode registers a node under its name. Re-registering replaces the node.
func (g *Graph) AddNode(n Node) { g.nodes[n.Name()] = n }

// Run executes the graph for one turn and returns the terminal state. Node
// errors and panics terminate the turn with ApologyAnswer; only context
// cancellation is returned as an error.
func (g *Graph) Run(ctx context.Context, state *core.WorkflowState) (*core.WorkflowState, error) {
	current := g.entry
	for step := 0; step < g.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		node, ok := g.nodes[current]
		if !ok {
			g.fail(state, current, fmt.Errorf("node %q not registered", current))
			return state, nil
		}

		state.Next = ""
		if err := g.runNode(ctx, node, state); err != nil {
			g.fail(state, current, err)
			return state, nil
		}

		next := state.Next
		if next == "" || next == Terminal {
			return state, nil
		}
		current = next
	}

	g.fail(state, current, fmt.Errorf("step limit %d exceeded", g.maxSteps))
	return state, nil
}

// runNode isolates one node execution, converting a panic into an error.
func (g *Graph) runNode(ctx context.Context, node Node, state *core.WorkflowState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %q panicked: %v", node.Name(), r)
		}
	}()
	return node.Run(ctx, state)
}

// fail converts a node failure into a terminal apology state.
func (g *Graph) fail(state *core.WorkflowState, node string, err error) {
	g.logger.Error("workflow.node.failed",
		"session_id", state.SessionID,
		"turn_id", state.TurnID,
		"node", node,
		"error", err.Error())
	if g.broker != nil {
		g.broker.Publish(state.SessionID, core.NewThoughtEvent(core.ThoughtError, core.CategoryError, node,
			"Something went wrong while processing this step."))
	}
	state.Answer = ApologyAnswer
	state.Next = Terminal
}

package workflow

import (
	"context"
	"strings"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
	"github.com/hupe1980/convflow/model"
	"github.com/hupe1980/convflow/stream"
)

// classifierInstruction constrains the model to one routing label.
const classifierInstruction = `You are an intent classifier for a conversational assistant.
Classify the user message into exactly one of these categories:
- financial-analysis: questions about markets, companies, stocks or economic data
- visualization: requests to chart, plot or visualize data
- document-generation: requests to produce a document, report or summary file
- chat: everything else

Respond with the category name only.`

// RouterNode is the graph entry point. A message carrying a file attachment
// short-circuits to the file-processing branch; everything else goes through
// the classifier.
type RouterNode struct {
	logger logging.Logger
}

// NewRouterNode constructs the router.
func NewRouterNode(logger logging.Logger) *RouterNode {
	return &RouterNode{logger: logging.OrNoOp(logger)}
}

// Name implements Node.
func (n *RouterNode) Name() string { return NodeRouter }

// Run implements Node.
func (n *RouterNode) Run(_ context.Context, state *core.WorkflowState) error {
	if state.Attachment != nil {
		n.logger.Debug("workflow.route.attachment", "session_id", state.SessionID, "file", state.Attachment.Name)
		state.Route = core.RouteFile
		state.Next = core.RouteFile
		return nil
	}
	state.Next = NodeClassifier
	return nil
}

// ClassifierNode maps free text to a workflow branch using the model
// provider. Any classification failure silently defaults to the chat branch;
// routing must never abort a turn.
type ClassifierNode struct {
	provider model.Provider
	broker   *stream.Broker
	logger   logging.Logger
}

// ClassifierOptions configures a ClassifierNode.
type ClassifierOptions struct {
	// Broker receives routing thought events; nil disables publishing.
	Broker *stream.Broker
	// Logger for classification diagnostics.
	Logger logging.Logger
}

// NewClassifierNode constructs the classifier backed by a provider.
func NewClassifierNode(provider model.Provider, optFns ...func(o *ClassifierOptions)) *ClassifierNode {
	opts := ClassifierOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ClassifierNode{
		provider: provider,
		broker:   opts.Broker,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Name implements Node.
func (n *ClassifierNode) Name() string { return NodeClassifier }

// Run implements Node.
func (n *ClassifierNode) Run(ctx context.Context, state *core.WorkflowState) error {
	route := core.RouteChat

	res, err := n.provider.Send(ctx, model.Request{
		Instruction: classifierInstruction,
		InputText:   state.Input,
		SessionID:   state.SessionID,
	})
	switch {
	case err != nil:
		n.logger.Warn("workflow.classify.failed", "session_id", state.SessionID, "error", err.Error())
	case res.Kind != core.TurnDone:
		n.logger.Warn("workflow.classify.unexpected", "session_id", state.SessionID, "kind", int(res.Kind))
	default:
		route = parseRoute(res.Text)
	}

	if n.broker != nil {
		n.broker.Publish(state.SessionID, core.NewThoughtEvent(core.ThoughtThinking, core.CategoryProgress, NodeClassifier,
			"Routing to "+route))
	}
	state.Route = route
	state.Next = route
	return nil
}

// parseRoute normalizes a classification answer to a known route, defaulting
// to chat.
func parseRoute(text string) string {
	label := strings.ToLower(strings.TrimSpace(text))
	for _, route := range []string{core.RouteAnalysis, core.RouteVisualization, core.RouteDocument, core.RouteChat} {
		if strings.Contains(label, route) {
			return route
		}
	}
	return core.RouteChat
}

package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/convflow/artifact"
	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
	"github.com/hupe1980/convflow/model"
	"github.com/hupe1980/convflow/protocol"
	"github.com/hupe1980/convflow/stream"
	"github.com/hupe1980/convflow/tool"
)

// Default branch instructions.
const (
	chatInstruction = `You are a helpful, concise assistant. Answer the user directly.`

	analysisInstruction = `You are a financial analysis assistant. Use the available tools to
retrieve market data, company information or research papers before answering.
If a tool is unavailable, say so and answer with what you have.`

	visualizationInstruction = `You are a data visualization assistant. Use the available tools to
produce charts or plots the user asked for and describe the result.`

	documentInstruction = `You are a document generation assistant. Use the available tools to
produce the requested document and tell the user where to find it.`
)

// failureAnswer phrases an exhausted provider exchange as the turn's visible
// answer text. The generic graph apology stays reserved for node bugs.
func failureAnswer(err error) string {
	if model.IsTransient(err) {
		return "I'm sorry, the model provider is currently unavailable. Please try again in a moment."
	}
	return "I'm sorry, I couldn't get a response from the model provider for this request."
}

// ChatNode is the plain conversational branch: one provider turn, no tools.
type ChatNode struct {
	client      *protocol.Client
	instruction string
}

// NewChatNode constructs the chat branch.
func NewChatNode(client *protocol.Client) *ChatNode {
	return &ChatNode{client: client, instruction: chatInstruction}
}

// Name implements Node.
func (n *ChatNode) Name() string { return core.RouteChat }

// Run implements Node.
func (n *ChatNode) Run(ctx context.Context, state *core.WorkflowState) error {
	answer, err := n.client.Run(ctx, protocol.Turn{
		State:       state,
		Node:        core.RouteChat,
		Instruction: n.instruction,
	})
	if err != nil {
		state.Answer = failureAnswer(err)
		state.Next = Terminal
		return nil
	}
	state.Answer = answer
	state.Next = Terminal
	return nil
}

// ToolBranchNode is a tool-using branch: it refreshes the capability
// registry on entry, advertises the branch's capabilities to the model and
// drives the continuation protocol until the model produces final text.
type ToolBranchNode struct {
	name        string
	instruction string
	client      *protocol.Client
	registry    *tool.Registry
	endpoints   func() []tool.Endpoint
	group       string
	logger      logging.Logger
}

// ToolBranchOptions configures a ToolBranchNode.
type ToolBranchOptions struct {
	// Instruction overrides the branch's default system instruction.
	Instruction string
	// Endpoints supplies fresh registry entries at branch entry; nil skips
	// the refresh and the registry keeps its current snapshot.
	Endpoints func() []tool.Endpoint
	// Group restricts advertised capabilities to one action group. Empty
	// advertises every registered capability.
	Group string
	// Logger for branch diagnostics.
	Logger logging.Logger
}

// NewAnalysisNode constructs the financial-analysis branch.
func NewAnalysisNode(client *protocol.Client, registry *tool.Registry, optFns ...func(o *ToolBranchOptions)) *ToolBranchNode {
	return newToolBranch(core.RouteAnalysis, analysisInstruction, client, registry, optFns...)
}

// NewVisualizationNode constructs the visualization branch.
func NewVisualizationNode(client *protocol.Client, registry *tool.Registry, optFns ...func(o *ToolBranchOptions)) *ToolBranchNode {
	return newToolBranch(core.RouteVisualization, visualizationInstruction, client, registry, optFns...)
}

// NewDocumentNode constructs the document-generation branch.
func NewDocumentNode(client *protocol.Client, registry *tool.Registry, optFns ...func(o *ToolBranchOptions)) *ToolBranchNode {
	return newToolBranch(core.RouteDocument, documentInstruction, client, registry, optFns...)
}

func newToolBranch(name, instruction string, client *protocol.Client, registry *tool.Registry, optFns ...func(o *ToolBranchOptions)) *ToolBranchNode {
	opts := ToolBranchOptions{Instruction: instruction}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Instruction == "" {
		opts.Instruction = instruction
	}
	return &ToolBranchNode{
		name:        name,
		instruction: opts.Instruction,
		client:      client,
		registry:    registry,
		endpoints:   opts.Endpoints,
		group:       opts.Group,
		logger:      logging.OrNoOp(opts.Logger),
	}
}

// Name implements Node.
func (n *ToolBranchNode) Name() string { return n.name }

// Run implements Node. The registry is refreshed once at branch entry and
// treated as read-only for the rest of the turn.
func (n *ToolBranchNode) Run(ctx context.Context, state *core.WorkflowState) error {
	if n.endpoints != nil {
		n.registry.Refresh(n.endpoints())
	}

	caps := n.registry.Capabilities()
	if n.group != "" {
		filtered := caps[:0:0]
		for _, c := range caps {
			if c.Group == n.group {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			caps = filtered
		}
	}

	answer, err := n.client.Run(ctx, protocol.Turn{
		State:        state,
		Node:         n.name,
		Instruction:  n.instruction,
		Capabilities: caps,
	})
	if err != nil {
		state.Answer = failureAnswer(err)
		state.Next = Terminal
		return nil
	}

	if len(state.Skipped) > 0 {
		answer += fmt.Sprintf("\n\nNote: the following capabilities were unavailable this turn: %s.",
			strings.Join(state.Skipped, ", "))
	}
	state.Answer = answer
	state.Next = Terminal
	return nil
}

// FileNode is the file-processing branch: it stores the attachment in the
// artifact store and asks the model to acknowledge and summarize it.
type FileNode struct {
	artifacts artifact.Store
	client    *protocol.Client
	broker    *stream.Broker
	logger    logging.Logger
}

// FileNodeOptions configures a FileNode.
type FileNodeOptions struct {
	// Broker receives file-processing thought events; nil disables.
	Broker *stream.Broker
	// Logger for branch diagnostics.
	Logger logging.Logger
}

// NewFileNode constructs the file-processing branch.
func NewFileNode(artifacts artifact.Store, client *protocol.Client, optFns ...func(o *FileNodeOptions)) *FileNode {
	opts := FileNodeOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &FileNode{
		artifacts: artifacts,
		client:    client,
		broker:    opts.Broker,
		logger:    logging.OrNoOp(opts.Logger),
	}
}

// Name implements Node.
func (n *FileNode) Name() string { return core.RouteFile }

// Run implements Node.
func (n *FileNode) Run(ctx context.Context, state *core.WorkflowState) error {
	att := state.Attachment
	if att == nil {
		return fmt.Errorf("file branch entered without attachment")
	}

	id, err := n.artifacts.Save(state.SessionID, *att)
	if err != nil {
		return fmt.Errorf("store attachment: %w", err)
	}
	state.Meta["artifact_id"] = id
	n.logger.Info("workflow.file.stored",
		"session_id", state.SessionID, "artifact_id", id, "file", att.Name, "bytes", len(att.Data))
	if n.broker != nil {
		n.broker.Publish(state.SessionID, core.NewThoughtEvent(core.ThoughtThinking, core.CategoryProgress, core.RouteFile,
			fmt.Sprintf("Stored uploaded file %q", att.Name)))
	}

	if state.Input == "" {
		state.Input = "Please acknowledge the uploaded file and summarize what you can do with it."
	}
	instruction := fmt.Sprintf(
		"The user uploaded a file named %q (%s, %d bytes). It has been stored and is available for later processing steps.",
		att.Name, att.MimeType, len(att.Data))

	answer, err := n.client.Run(ctx, protocol.Turn{
		State:       state,
		Node:        core.RouteFile,
		Instruction: instruction,
	})
	if err != nil {
		state.Answer = failureAnswer(err)
		state.Next = Terminal
		return nil
	}
	state.Answer = answer
	state.Next = Terminal
	return nil
}

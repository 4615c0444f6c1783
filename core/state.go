package core

// Route labels produced by the router/classifier stage. They double as node
// names in the workflow graph.
const (
	RouteChat          = "chat"
	RouteAnalysis      = "financial-analysis"
	RouteVisualization = "visualization"
	RouteDocument      = "document-generation"
	RouteFile          = "file-processing"
)

// WorkflowState is the mutable record threaded through graph nodes for a
// single turn. It is owned exclusively by the one in-flight turn of its
// session and discarded once the turn reaches a terminal node, so no locking
// is required.
//
// Next is consumed by the graph executor to pick the following node; nodes
// set it to another node name or leave the executor to terminate the turn.
type WorkflowState struct {
	SessionID string
	TurnID    string

	// Input extracted from the latest user message.
	Input      string
	Attachment *FilePart

	// Route is the classifier's decision for this turn.
	Route string

	// Answer accumulates the final user-visible response.
	Answer string

	// Invocation holds the most recent tool-execution descriptor, if any.
	Invocation *ToolInvocation

	// Skipped lists capabilities that could not be reached this turn.
	Skipped []string

	// Meta carries arbitrary per-turn annotations for downstream nodes.
	Meta map[string]any

	// Next names the node the executor should run after the current one.
	Next string
}

// NewWorkflowState builds the state for one turn.
func NewWorkflowState(sessionID, input string) *WorkflowState {
	return &WorkflowState{
		SessionID: sessionID,
		TurnID:    NewID(),
		Input:     input,
		Meta:      map[string]any{},
	}
}

// MarkSkipped records a capability that degraded to skipped this turn.
func (s *WorkflowState) MarkSkipped(capability string) {
	for _, c := range s.Skipped {
		if c == capability {
			return
		}
	}
	s.Skipped = append(s.Skipped, capability)
}

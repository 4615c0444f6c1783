package core

import "time"

// ThoughtType classifies a ThoughtEvent for consumers. The connected, ping
// and complete types are synthesized by the stream broker; the remaining
// types are published by workflow nodes and the protocol client.
type ThoughtType string

// Reserved thought event types (wire values).
const (
	ThoughtConnected ThoughtType = "connected"
	ThoughtThinking  ThoughtType = "thought"
	ThoughtQuestion  ThoughtType = "question"
	ThoughtResult    ThoughtType = "result"
	ThoughtError     ThoughtType = "error"
	ThoughtPing      ThoughtType = "ping"
	ThoughtComplete  ThoughtType = "complete"
)

// Thought event categories. CategoryTool marks externally visible progress
// (tool invocation/result pairs) that the broker flushes without pacing.
const (
	CategoryTool     = "tool"
	CategoryResult   = "result"
	CategoryError    = "error"
	CategoryProgress = "progress"
)

// ThoughtEvent is one structured progress notification for a turn. Events are
// append-only: the broker assigns Seq at publish time and the event is never
// mutated afterwards. Wire shape follows the live event stream contract:
// {id, type, category, node, content, technical_details?}.
type ThoughtEvent struct {
	SessionID string         `json:"-"`
	Seq       uint64         `json:"id"`
	Type      ThoughtType    `json:"type"`
	Category  string         `json:"category,omitempty"`
	Node      string         `json:"node,omitempty"`
	Content   string         `json:"content,omitempty"`
	Details   map[string]any `json:"technical_details,omitempty"`
	Timestamp time.Time      `json:"-"`
}

// NewThoughtEvent builds an unsequenced event for publication. The broker
// stamps SessionID and Seq.
func NewThoughtEvent(typ ThoughtType, category, node, content string) ThoughtEvent {
	return ThoughtEvent{
		Type:      typ,
		Category:  category,
		Node:      node,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails attaches a technical detail payload and returns the event.
func (e ThoughtEvent) WithDetails(details map[string]any) ThoughtEvent {
	e.Details = details
	return e
}

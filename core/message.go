package core

import (
	"strings"
	"time"
)

// Role identifies the author class of a conversation message.
type Role string

// Conversation roles. ToolUsage and ToolResult record the tool-call half-turns
// produced while a model pauses for a capability invocation.
const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolUsage  Role = "tool-usage"
	RoleToolResult Role = "tool-result"
)

// IsSystem reports whether the role carries standing instructions that must
// survive sliding-window eviction.
func (r Role) IsSystem() bool { return r == RoleSystem }

// Part is one ordered content block of a conversation message. Concrete part
// types implement the unexported marker so the set stays closed.
type Part interface{ isPart() }

// TextPart is a plain text content block.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// FilePart is a binary attachment content block. Data may be empty when the
// attachment was offloaded to an attachment store, in which case ArtifactID
// references the stored payload.
type FilePart struct {
	Name       string
	MimeType   string
	Data       []byte
	ArtifactID string
}

func (FilePart) isPart() {}

// Message is one immutable entry of a session's conversation history.
// Ordering between messages is insertion order and is never changed after
// append. Meta carries engine-internal annotations (routing branch, turn id)
// that are stripped from every outward projection.
type Message struct {
	Role      Role
	Parts     []Part
	Timestamp time.Time
	Source    string
	Meta      map[string]string
}

// NewTextMessage builds a message holding a single text part.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Parts:     []Part{TextPart{Text: text}},
		Timestamp: time.Now().UTC(),
	}
}

// Text concatenates all text parts of the message in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// Attachment returns the first file part, if any.
func (m Message) Attachment() (FilePart, bool) {
	for _, p := range m.Parts {
		if fp, ok := p.(FilePart); ok {
			return fp, true
		}
	}
	return FilePart{}, false
}

// PromptMessage is the provider-facing projection of a message: a bare role
// and merged text, with all internal metadata removed. Produced by the memory
// store's provider-state projection.
type PromptMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

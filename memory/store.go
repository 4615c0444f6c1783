package memory

import (
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
)

// DefaultWindowSize bounds retained non-system messages per session when no
// explicit window is configured.
const DefaultWindowSize = 30

// defaultShardCount balances lock granularity against per-shard overhead.
const defaultShardCount = 16

// Store is the session memory contract consumed by the workflow executor and
// the protocol client. Mutating operations on an unknown session id return
// false and perform nothing; they never fail with an error.
type Store interface {
	// Ensure creates the session if absent. Idempotent.
	Ensure(sessionID string)
	// AddUserMessage appends a user message with optional attachment.
	AddUserMessage(sessionID, text string, attachment *core.FilePart) bool
	// AddAssistantMessage appends an assistant answer tagged with its source.
	AddAssistantMessage(sessionID, text, source string) bool
	// AddToolUsage records a capability invocation half-turn.
	AddToolUsage(sessionID, capability string, params map[string]any) bool
	// AddToolResult records the paired capability outcome.
	AddToolResult(sessionID, capability, result string) bool
	// History returns up to max messages (all when max <= 0) with internal
	// metadata stripped. The second result is false for unknown sessions.
	History(sessionID string, max int) ([]core.Message, bool)
	// ProviderState projects the history into provider-ready prompt messages:
	// consecutive same-role messages merged, trailing unanswered user message
	// dropped.
	ProviderState(sessionID string) ([]core.PromptMessage, bool)
	// Clear empties the session's history, keeping the session alive.
	Clear(sessionID string) bool
	// Delete removes the session entirely.
	Delete(sessionID string) bool
	// ExpireIdle removes sessions untouched for longer than maxAge and
	// returns how many were evicted.
	ExpireIdle(maxAge time.Duration) int
}

// sessionRecord holds one session's history plus bookkeeping. Guarded by the
// owning shard's mutex.
type sessionRecord struct {
	messages []core.Message
	touched  time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*sessionRecord
}

// InMemoryStore is the process-local Store implementation. Safe for
// concurrent use by many sessions' goroutines; within a session the engine
// guarantees a single writer per turn.
type InMemoryStore struct {
	shards     []*shard
	windowSize int
	logger     logging.Logger
}

// Options configures an InMemoryStore.
type Options struct {
	// WindowSize bounds retained non-system messages. <= 0 selects
	// DefaultWindowSize.
	WindowSize int
	// ShardCount controls lock granularity. <= 0 selects a sane default.
	ShardCount int
	// Logger for eviction and expiry diagnostics.
	Logger logging.Logger
}

// NewInMemoryStore constructs an empty sharded store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{WindowSize: DefaultWindowSize, ShardCount: defaultShardCount}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.ShardCount <= 0 {
		opts.ShardCount = defaultShardCount
	}
	shards := make([]*shard, opts.ShardCount)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*sessionRecord)}
	}
	return &InMemoryStore{
		shards:     shards,
		windowSize: opts.WindowSize,
		logger:     logging.OrNoOp(opts.Logger),
	}
}

func (s *InMemoryStore) shardFor(sessionID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

// Ensure implements Store.
func (s *InMemoryStore) Ensure(sessionID string) {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[sessionID]; !ok {
		sh.sessions[sessionID] = &sessionRecord{touched: time.Now()}
	}
}

// append applies the sliding window after adding msg. Returns false when the
// session does not exist.
func (s *InMemoryStore) append(sessionID string, msg core.Message) bool {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.sessions[sessionID]
	if !ok {
		return false
	}
	rec.messages = append(rec.messages, msg)
	rec.messages = applyWindow(rec.messages, s.windowSize)
	rec.touched = time.Now()
	return true
}

// applyWindow partitions stored messages into system vs non-system, retains
// the most recent limit non-system messages, and reassembles the list as
// system messages (original relative order) + retained tail.
func applyWindow(messages []core.Message, limit int) []core.Message {
	var system, rest []core.Message
	for _, m := range messages {
		if m.Role.IsSystem() {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(rest) <= limit {
		return messages
	}
	rest = rest[len(rest)-limit:]
	out := make([]core.Message, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

// AddUserMessage implements Store.
func (s *InMemoryStore) AddUserMessage(sessionID, text string, attachment *core.FilePart) bool {
	msg := core.NewTextMessage(core.RoleUser, text)
	if attachment != nil {
		msg.Parts = append(msg.Parts, *attachment)
	}
	return s.append(sessionID, msg)
}

// AddAssistantMessage implements Store.
func (s *InMemoryStore) AddAssistantMessage(sessionID, text, source string) bool {
	msg := core.NewTextMessage(core.RoleAssistant, text)
	msg.Source = source
	return s.append(sessionID, msg)
}

// AddToolUsage implements Store. Parameters are serialized into the message
// text so tool half-turns survive the provider projection.
func (s *InMemoryStore) AddToolUsage(sessionID, capability string, params map[string]any) bool {
	text := capability
	if len(params) > 0 {
		if raw, err := json.Marshal(params); err == nil {
			text = capability + " " + string(raw)
		}
	}
	msg := core.NewTextMessage(core.RoleToolUsage, text)
	msg.Meta = map[string]string{"capability": capability}
	return s.append(sessionID, msg)
}

// AddToolResult implements Store.
func (s *InMemoryStore) AddToolResult(sessionID, capability, result string) bool {
	msg := core.NewTextMessage(core.RoleToolResult, result)
	msg.Meta = map[string]string{"capability": capability}
	return s.append(sessionID, msg)
}

// History implements Store. Returned messages are copies with Meta removed so
// callers never observe internal annotations.
func (s *InMemoryStore) History(sessionID string, max int) ([]core.Message, bool) {
	sh := s.shardFor(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.sessions[sessionID]
	if !ok {
		return nil, false
	}
	msgs := rec.messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]core.Message, len(msgs))
	for i, m := range msgs {
		m.Meta = nil
		out[i] = m
	}
	return out, true
}

// ProviderState implements Store. Some downstream protocols reject
// back-to-back same-role turns, so consecutive messages of one role are
// merged with a blank-line separator. A trailing unanswered user message is
// dropped because continuations must not introduce new user input.
func (s *InMemoryStore) ProviderState(sessionID string) ([]core.PromptMessage, bool) {
	sh := s.shardFor(sessionID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.sessions[sessionID]
	if !ok {
		return nil, false
	}
	var out []core.PromptMessage
	for _, m := range rec.messages {
		text := m.Text()
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Text += "\n\n" + text
			continue
		}
		out = append(out, core.PromptMessage{Role: m.Role, Text: text})
	}
	if n := len(out); n > 0 && out[n-1].Role == core.RoleUser {
		out = out[:n-1]
	}
	return out, true
}

// Clear implements Store.
func (s *InMemoryStore) Clear(sessionID string) bool {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.sessions[sessionID]
	if !ok {
		return false
	}
	rec.messages = nil
	rec.touched = time.Now()
	return true
}

// Delete implements Store.
func (s *InMemoryStore) Delete(sessionID string) bool {
	sh := s.shardFor(sessionID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[sessionID]; !ok {
		return false
	}
	delete(sh.sessions, sessionID)
	return true
}

// ExpireIdle implements Store.
func (s *InMemoryStore) ExpireIdle(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, rec := range sh.sessions {
			if rec.touched.Before(cutoff) {
				delete(sh.sessions, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		s.logger.Info("memory.sessions.expired", "count", evicted)
	}
	return evicted
}

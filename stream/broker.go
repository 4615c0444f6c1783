package stream

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
)

// Default timing knobs. Pace applies to every category except tool events,
// which represent externally visible progress and are flushed immediately.
const (
	DefaultPingInterval = 15 * time.Second
	DefaultPace         = 0 * time.Millisecond
)

// channelState is one session's queue plus completion flag. Guarded by the
// broker mutex; notify has capacity 1 and is used as a level-triggered wakeup.
type channelState struct {
	queue    []core.ThoughtEvent
	seq      uint64
	complete bool
	notify   chan struct{}
	touched  time.Time
}

// Options configures a Broker.
type Options struct {
	// Pace delays delivery of non-tool events to produce a readable pace for
	// human-facing consumers. 0 disables pacing (headless consumers).
	Pace time.Duration
	// PingInterval bounds consumer idle time before a synthetic ping.
	PingInterval time.Duration
	// Logger for lifecycle diagnostics.
	Logger logging.Logger
}

// Broker is the per-session thought event broker. Safe for concurrent use by
// many sessions' producers; each session expects at most one consumer at a
// time.
type Broker struct {
	mu       sync.Mutex
	sessions map[string]*channelState

	pace         time.Duration
	pingInterval time.Duration
	logger       logging.Logger
}

// NewBroker constructs an empty broker.
func NewBroker(optFns ...func(o *Options)) *Broker {
	opts := Options{Pace: DefaultPace, PingInterval: DefaultPingInterval}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	return &Broker{
		sessions:     make(map[string]*channelState),
		pace:         opts.Pace,
		pingInterval: opts.PingInterval,
		logger:       logging.OrNoOp(opts.Logger),
	}
}

// Register creates the session's queue and completion flag if absent.
// Idempotent; a consumer may attach before or after production starts.
func (b *Broker) Register(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureLocked(sessionID)
}

func (b *Broker) ensureLocked(sessionID string) *channelState {
	cs, ok := b.sessions[sessionID]
	if !ok {
		cs = &channelState{notify: make(chan struct{}, 1), touched: time.Now()}
		b.sessions[sessionID] = cs
	}
	return cs
}

// Publish assigns the next per-session sequence number and enqueues the
// event. Never blocks. Publishing to a completed-and-discarded session
// recreates its state; such events are dropped with the queue if no consumer
// ever attaches.
func (b *Broker) Publish(sessionID string, ev core.ThoughtEvent) {
	b.mu.Lock()
	cs := b.ensureLocked(sessionID)
	cs.seq++
	ev.SessionID = sessionID
	ev.Seq = cs.seq
	cs.queue = append(cs.queue, ev)
	cs.touched = time.Now()
	b.mu.Unlock()
	b.wake(cs)
}

// MarkComplete sets the session's completion flag. The subscriber drains any
// remaining events, receives the complete sentinel, and the broker discards
// the session state.
func (b *Broker) MarkComplete(sessionID string) {
	b.mu.Lock()
	cs := b.ensureLocked(sessionID)
	cs.complete = true
	cs.touched = time.Now()
	b.mu.Unlock()
	b.wake(cs)
}

func (b *Broker) wake(cs *channelState) {
	select {
	case cs.notify <- struct{}{}:
	default:
	}
}

// synthesize builds a broker-originated event carrying the next sequence
// number of the session.
func (b *Broker) synthesize(sessionID string, typ core.ThoughtType) core.ThoughtEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.ensureLocked(sessionID)
	cs.seq++
	ev := core.NewThoughtEvent(typ, "", "", "")
	ev.SessionID = sessionID
	ev.Seq = cs.seq
	return ev
}

// attach drains the pre-attach queue and sequences the connected marker in
// one critical section, so the marker's number is greater than every cached
// event and smaller than anything published afterwards.
func (b *Broker) attach(sessionID string) (cached []core.ThoughtEvent, connected core.ThoughtEvent, done bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.ensureLocked(sessionID)
	cached = cs.queue
	cs.queue = nil
	cs.seq++
	connected = core.NewThoughtEvent(core.ThoughtConnected, "", "", "")
	connected.SessionID = sessionID
	connected.Seq = cs.seq
	return cached, connected, cs.complete
}

// synthesizePing sequences a ping only while the session queue is empty.
// A ping must never take a number while lower-numbered events are still
// queued, or the consumer would observe a sequence inversion.
func (b *Broker) synthesizePing(sessionID string) (core.ThoughtEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.ensureLocked(sessionID)
	if len(cs.queue) > 0 || cs.complete {
		return core.ThoughtEvent{}, false
	}
	cs.seq++
	ev := core.NewThoughtEvent(core.ThoughtPing, "", "", "")
	ev.SessionID = sessionID
	ev.Seq = cs.seq
	return ev, true
}

// requeue returns undelivered events to the front of the session queue so a
// re-attaching consumer still observes them in order.
func (b *Broker) requeue(sessionID string, events []core.ThoughtEvent) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.ensureLocked(sessionID)
	cs.queue = append(append([]core.ThoughtEvent(nil), events...), cs.queue...)
}

// drain removes and returns all queued events. The second result reports
// whether the session is complete with nothing left to deliver.
func (b *Broker) drain(sessionID string) ([]core.ThoughtEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.ensureLocked(sessionID)
	events := cs.queue
	cs.queue = nil
	return events, cs.complete && len(cs.queue) == 0
}

// Discard drops the session's queue and completion flag.
func (b *Broker) Discard(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
}

// ExpireIdle discards broker state for sessions untouched for longer than
// maxAge. Covers completed sessions whose consumer never drained them.
func (b *Broker) ExpireIdle(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	b.mu.Lock()
	defer b.mu.Unlock()
	evicted := 0
	for id, cs := range b.sessions {
		if cs.touched.Before(cutoff) {
			delete(b.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Subscribe attaches the session's consumer and returns a finite event
// channel. Delivery order: cached events (original order), a synthetic
// connected marker, live events, and a terminal complete sentinel, after
// which the channel is closed and broker state for the session is discarded.
// Cancelling ctx detaches the consumer without cancelling the producer;
// events drained but not yet delivered are returned to the queue for a
// later consumer.
func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan core.ThoughtEvent {
	b.Register(sessionID)
	out := make(chan core.ThoughtEvent)

	go func() {
		defer close(out)

		// Cached events queued before attach are replayed first; the
		// connected marker is sequenced atomically with the drain.
		cached, connected, done := b.attach(sessionID)
		for i, ev := range cached {
			if !b.deliver(ctx, out, ev) {
				b.requeue(sessionID, cached[i:])
				return
			}
		}
		if !b.deliver(ctx, out, connected) {
			return
		}

		b.mu.Lock()
		cs := b.ensureLocked(sessionID)
		b.mu.Unlock()

		for !done {
			select {
			case <-ctx.Done():
				b.logger.Debug("stream.consumer.detached", "session_id", sessionID)
				return
			case <-cs.notify:
			case <-time.After(b.pingInterval):
				// Skipped when events are queued: the pending notify wakes
				// the next iteration and the queue drains first.
				if ping, ok := b.synthesizePing(sessionID); ok {
					if !b.deliver(ctx, out, ping) {
						return
					}
				}
				continue
			}

			var events []core.ThoughtEvent
			events, done = b.drain(sessionID)
			for i, ev := range events {
				if !b.deliver(ctx, out, ev) {
					b.requeue(sessionID, events[i:])
					return
				}
			}
		}

		b.deliver(ctx, out, b.synthesize(sessionID, core.ThoughtComplete))
		b.Discard(sessionID)
	}()

	return out
}

// deliver sends one event to the consumer applying the pacing policy.
// Returns false when the consumer context is cancelled.
func (b *Broker) deliver(ctx context.Context, out chan<- core.ThoughtEvent, ev core.ThoughtEvent) bool {
	if b.pace > 0 && ev.Category != core.CategoryTool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(b.pace):
		}
	}
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}

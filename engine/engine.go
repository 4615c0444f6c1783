// Package engine wires the orchestration components into one entry point.
// HandleMessage runs a complete turn: ensure the session, append the user
// message, execute the workflow graph, append the assistant answer and mark
// the thought stream complete. Turns of one session are serialized; distinct
// sessions run fully concurrently.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/convflow/artifact"
	"github.com/hupe1980/convflow/config"
	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
	"github.com/hupe1980/convflow/memory"
	"github.com/hupe1980/convflow/model"
	"github.com/hupe1980/convflow/protocol"
	"github.com/hupe1980/convflow/stream"
	"github.com/hupe1980/convflow/tool"
	"github.com/hupe1980/convflow/workflow"
)

// Options configures an Engine. Every component has a sensible default built
// from the configuration; supplying one explicitly overrides it.
type Options struct {
	// Config supplies tuning knobs; nil selects compiled-in defaults.
	Config *config.Config
	// Capabilities are the specs advertised to the model and used for
	// parameter coercion.
	Capabilities []core.CapabilitySpec
	// Memory overrides the default in-memory session store.
	Memory memory.Store
	// Broker overrides the default thought stream broker.
	Broker *stream.Broker
	// Artifacts overrides the default in-memory attachment store.
	Artifacts artifact.Store
	// Logger for engine diagnostics.
	Logger logging.Logger
}

// Engine is the top-level conversation orchestrator.
type Engine struct {
	cfg       *config.Config
	mem       memory.Store
	broker    *stream.Broker
	registry  *tool.Registry
	artifacts artifact.Store
	graph     *workflow.Graph
	logger    logging.Logger

	turns keyedMutex

	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New constructs an engine around a model provider and starts the idle
// session reaper when configured.
func New(provider model.Provider, optFns ...func(o *Options)) *Engine {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = defaultConfig()
	}
	logger := logging.OrNoOp(opts.Logger)

	mem := opts.Memory
	if mem == nil {
		mem = memory.NewInMemoryStore(func(o *memory.Options) {
			o.WindowSize = cfg.Memory.WindowSize
			o.ShardCount = cfg.Memory.ShardCount
			o.Logger = logger
		})
	}
	broker := opts.Broker
	if broker == nil {
		broker = stream.NewBroker(func(o *stream.Options) {
			o.Pace = cfg.Stream.Pace
			o.PingInterval = cfg.Stream.PingInterval
			o.Logger = logger
		})
	}
	artifacts := opts.Artifacts
	if artifacts == nil {
		artifacts = artifact.NewInMemoryStore()
	}

	registry := tool.NewRegistry(opts.Capabilities, func(o *tool.RegistryOptions) {
		o.Defaults = cfg.Tools.ToolEndpoints()
	})
	executor := tool.NewExecutor(registry, func(o *tool.ExecutorOptions) {
		o.Timeout = cfg.Tools.Timeout
		o.Logger = logger
	})

	if cfg.Provider.Timeout > 0 {
		provider = &timeoutProvider{next: provider, timeout: cfg.Provider.Timeout}
	}
	var limiter *rate.Limiter
	if cfg.Provider.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Provider.RateLimit), max(cfg.Provider.RateBurst, 1))
	}
	client := protocol.NewClient(provider, &protocol.ExecutorRunner{Executor: executor}, func(o *protocol.Options) {
		o.Memory = mem
		o.Broker = broker
		o.Limiter = limiter
		o.MaxRetries = uint64(max(cfg.Provider.MaxRetries, 0))
		o.Logger = logger
	})

	endpoints := cfg.Tools.ToolEndpoints
	graph := workflow.NewGraph(func(o *workflow.Options) {
		o.Broker = broker
		o.Logger = logger
	})
	graph.AddNode(workflow.NewRouterNode(logger))
	graph.AddNode(workflow.NewClassifierNode(provider, func(o *workflow.ClassifierOptions) {
		o.Broker = broker
		o.Logger = logger
	}))
	graph.AddNode(workflow.NewChatNode(client))
	graph.AddNode(workflow.NewAnalysisNode(client, registry, func(o *workflow.ToolBranchOptions) {
		o.Endpoints = endpoints
		o.Logger = logger
	}))
	graph.AddNode(workflow.NewVisualizationNode(client, registry, func(o *workflow.ToolBranchOptions) {
		o.Endpoints = endpoints
		o.Logger = logger
	}))
	graph.AddNode(workflow.NewDocumentNode(client, registry, func(o *workflow.ToolBranchOptions) {
		o.Endpoints = endpoints
		o.Logger = logger
	}))
	graph.AddNode(workflow.NewFileNode(artifacts, client, func(o *workflow.FileNodeOptions) {
		o.Broker = broker
		o.Logger = logger
	}))

	e := &Engine{
		cfg:       cfg,
		mem:       mem,
		broker:    broker,
		registry:  registry,
		artifacts: artifacts,
		graph:     graph,
		logger:    logger,
		stop:      make(chan struct{}),
	}
	if cfg.Engine.ReaperInterval > 0 {
		e.wg.Add(1)
		go e.reap(cfg.Engine.ReaperInterval, cfg.Engine.SessionMaxAge)
	}
	return e
}

// HandleMessage runs one workflow turn for the latest user message and
// returns the terminal turn state. Turns of the same session are serialized;
// the call blocks while an earlier turn of the session is in flight.
func (e *Engine) HandleMessage(ctx context.Context, sessionID string, msg core.Message) (*core.WorkflowState, error) {
	unlock := e.turns.lock(sessionID)
	defer unlock()

	e.mem.Ensure(sessionID)
	e.broker.Register(sessionID)

	input := msg.Text()
	var attachment *core.FilePart
	if fp, ok := msg.Attachment(); ok {
		attachment = &fp
	}
	e.mem.AddUserMessage(sessionID, input, attachment)

	state := core.NewWorkflowState(sessionID, input)
	state.Attachment = attachment

	e.logger.Info("engine.turn.started", "session_id", sessionID, "turn_id", state.TurnID)
	state, err := e.graph.Run(ctx, state)
	if err != nil {
		// Context cancellation: the stream still completes so a consumer
		// never hangs on a dead turn.
		e.broker.MarkComplete(sessionID)
		return state, err
	}

	e.mem.AddAssistantMessage(sessionID, state.Answer, state.Route)
	e.broker.MarkComplete(sessionID)
	e.logger.Info("engine.turn.completed",
		"session_id", sessionID, "turn_id", state.TurnID, "route", state.Route, "skipped", len(state.Skipped))
	return state, nil
}

// Subscribe attaches a consumer to the session's thought stream.
func (e *Engine) Subscribe(ctx context.Context, sessionID string) <-chan core.ThoughtEvent {
	return e.broker.Subscribe(ctx, sessionID)
}

// History returns the session's conversation history.
func (e *Engine) History(sessionID string, max int) ([]core.Message, bool) {
	return e.mem.History(sessionID, max)
}

// DeleteSession removes every trace of the session: history, stream state
// and stored artifacts.
func (e *Engine) DeleteSession(sessionID string) {
	e.mem.Delete(sessionID)
	e.broker.Discard(sessionID)
	e.artifacts.DeleteSession(sessionID)
}

// Close stops the idle session reaper. Safe to call multiple times.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

func (e *Engine) reap(interval, maxAge time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			expired := e.mem.ExpireIdle(maxAge)
			discarded := e.broker.ExpireIdle(maxAge)
			if expired > 0 || discarded > 0 {
				e.logger.Info("engine.sessions.reaped", "memory", expired, "stream", discarded)
			}
		}
	}
}

// defaultConfig mirrors the config package defaults without touching the
// filesystem or environment.
func defaultConfig() *config.Config {
	return &config.Config{
		Memory: config.MemoryConfig{WindowSize: memory.DefaultWindowSize, ShardCount: 16},
		Stream: config.StreamConfig{PingInterval: stream.DefaultPingInterval},
		Provider: config.ProviderConfig{
			Name:       "mock",
			Timeout:    60 * time.Second,
			MaxRetries: protocol.DefaultMaxRetries,
			RateBurst:  1,
		},
		Tools:  config.ToolsConfig{Timeout: tool.DefaultCallTimeout},
		Engine: config.EngineConfig{ReaperInterval: 5 * time.Minute, SessionMaxAge: time.Hour},
	}
}

// timeoutProvider bounds every provider call with a deadline.
type timeoutProvider struct {
	next    model.Provider
	timeout time.Duration
}

func (p *timeoutProvider) Send(ctx context.Context, req model.Request) (core.TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.next.Send(ctx, req)
}

func (p *timeoutProvider) Info() model.Info { return p.next.Info() }

// keyedMutex serializes turns per session while letting distinct sessions
// proceed concurrently. Locks are reference counted so idle sessions leave no
// entry behind.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sessionLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sessionLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

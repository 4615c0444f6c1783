package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convflow/config"
	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/model"
)

func testConfig() *config.Config {
	cfg := defaultConfig()
	cfg.Engine.ReaperInterval = 0 // no background reaper in tests
	return cfg
}

func TestHandleMessageChatTurn(t *testing.T) {
	provider := model.NewMockProvider()
	provider.Enqueue(
		core.Done("chat"),    // classifier
		core.Done("Hello!"),  // chat branch
	)
	e := New(provider, func(o *Options) { o.Config = testConfig() })
	defer e.Close()

	state, err := e.HandleMessage(context.Background(), "s1", core.NewTextMessage(core.RoleUser, "hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello!", state.Answer)
	assert.Equal(t, core.RouteChat, state.Route)

	history, ok := e.History("s1", 0)
	require.True(t, ok)
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Text())
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello!", history[1].Text())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var last core.ThoughtEvent
	for ev := range e.Subscribe(ctx, "s1") {
		last = ev
	}
	assert.Equal(t, core.ThoughtComplete, last.Type)
}

func TestHandleMessageAttachmentRoutesToFile(t *testing.T) {
	provider := model.NewMockProvider()
	provider.Enqueue(core.Done("I received your file.")) // file branch, no classifier call
	e := New(provider, func(o *Options) { o.Config = testConfig() })
	defer e.Close()

	msg := core.NewTextMessage(core.RoleUser, "here is my report")
	msg.Parts = append(msg.Parts, core.FilePart{Name: "report.pdf", MimeType: "application/pdf", Data: []byte("%PDF-")})

	state, err := e.HandleMessage(context.Background(), "s1", msg)
	require.NoError(t, err)
	assert.Equal(t, core.RouteFile, state.Route)
	assert.Equal(t, "I received your file.", state.Answer)
	assert.NotEmpty(t, state.Meta["artifact_id"])
}

// gaugeProvider tracks how many Send calls are in flight at once.
type gaugeProvider struct {
	mu        sync.Mutex
	active    int
	maxActive int
}

func (p *gaugeProvider) Send(_ context.Context, _ model.Request) (core.TurnResult, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	return core.Done("chat"), nil
}

func (p *gaugeProvider) Info() model.Info { return model.Info{Name: "gauge", Provider: "test"} }

func TestTurnsOfOneSessionAreSerialized(t *testing.T) {
	provider := &gaugeProvider{}
	e := New(provider, func(o *Options) { o.Config = testConfig() })
	defer e.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.HandleMessage(context.Background(), "s1", core.NewTextMessage(core.RoleUser, "hi"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, provider.maxActive)
}

func TestDistinctSessionsRunConcurrently(t *testing.T) {
	provider := &gaugeProvider{}
	e := New(provider, func(o *Options) { o.Config = testConfig() })
	defer e.Close()

	var wg sync.WaitGroup
	for _, session := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.HandleMessage(context.Background(), id, core.NewTextMessage(core.RoleUser, "hi"))
			assert.NoError(t, err)
		}(session)
	}
	wg.Wait()

	assert.Greater(t, provider.maxActive, 1)
}

func TestDeleteSessionRemovesState(t *testing.T) {
	provider := model.NewMockProvider()
	e := New(provider, func(o *Options) { o.Config = testConfig() })
	defer e.Close()

	_, err := e.HandleMessage(context.Background(), "s1", core.NewTextMessage(core.RoleUser, "hi"))
	require.NoError(t, err)

	e.DeleteSession("s1")
	_, ok := e.History("s1", 0)
	assert.False(t, ok)
}

func TestReaperExpiresIdleSessions(t *testing.T) {
	provider := model.NewMockProvider()
	cfg := defaultConfig()
	cfg.Engine.ReaperInterval = 10 * time.Millisecond
	cfg.Engine.SessionMaxAge = time.Millisecond
	e := New(provider, func(o *Options) { o.Config = cfg })
	defer e.Close()

	_, err := e.HandleMessage(context.Background(), "s1", core.NewTextMessage(core.RoleUser, "hi"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := e.History("s1", 0)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	e := New(model.NewMockProvider(), func(o *Options) { o.Config = testConfig() })
	e.Close()
	e.Close()
}

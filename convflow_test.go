package convflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convflow/config"
	"github.com/hupe1980/convflow/core"
)

func TestNewWithMockProvider(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Provider.Name = "mock"
	cfg.Engine.ReaperInterval = 0

	e, err := New(func(o *Options) { o.Config = cfg })
	require.NoError(t, err)
	defer e.Close()

	state, err := e.HandleMessage(context.Background(), "s1", core.NewTextMessage(core.RoleUser, "hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, state.Answer)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Provider.Name = "nope"

	_, err = New(func(o *Options) { o.Config = cfg })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

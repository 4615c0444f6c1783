package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Memory.WindowSize)
	assert.Equal(t, 16, cfg.Memory.ShardCount)
	assert.Equal(t, 15*time.Second, cfg.Stream.PingInterval)
	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, 1, cfg.Provider.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Tools.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.ReaperInterval)
	assert.Empty(t, cfg.Tools.Endpoints)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convflow.yaml")
	content := `
memory:
  window_size: 10
provider:
  name: openai
  timeout: 20s
tools:
  endpoints:
    - hostname: http://weather:8080
      isActive: true
      capabilities: [get_weather]
    - hostname: http://search:8080
      isActive: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Memory.WindowSize)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, 20*time.Second, cfg.Provider.Timeout)

	eps := cfg.Tools.ToolEndpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "http://weather:8080", eps[0].Hostname)
	assert.True(t, eps[0].Active)
	assert.Equal(t, []string{"get_weather"}, eps[0].Capabilities)
	assert.False(t, eps[1].Active)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONVFLOW_MEMORY_WINDOW_SIZE", "5")
	t.Setenv("CONVFLOW_PROVIDER_NAME", "mock")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Memory.WindowSize)
	assert.Equal(t, "mock", cfg.Provider.Name)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

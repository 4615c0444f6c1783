// Package config loads engine configuration from a YAML file with
// environment-variable overrides (prefix CONVFLOW_, dots mapped to
// underscores). Every knob has a compiled-in default so a missing file yields
// a usable configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/convflow/tool"
)

// Config is the engine configuration tree.
type Config struct {
	Memory   MemoryConfig   `mapstructure:"memory"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Provider ProviderConfig `mapstructure:"provider"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// MemoryConfig tunes the session memory store.
type MemoryConfig struct {
	// WindowSize bounds retained non-system messages per session.
	WindowSize int `mapstructure:"window_size"`
	// ShardCount controls session-id keyed lock granularity.
	ShardCount int `mapstructure:"shard_count"`
}

// StreamConfig tunes the thought stream broker.
type StreamConfig struct {
	// Pace delays non-tool events for human-facing consumers; 0 disables.
	Pace time.Duration `mapstructure:"pace"`
	// PingInterval bounds consumer idle time before a synthetic ping.
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// ProviderConfig tunes the model provider exchange.
type ProviderConfig struct {
	// Name selects the provider adapter: anthropic, openai or mock.
	Name string `mapstructure:"name"`
	// Model is the provider-specific model identifier.
	Model string `mapstructure:"model"`
	// Timeout bounds one provider call.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries bounds retries of a transient provider failure.
	MaxRetries int `mapstructure:"max_retries"`
	// RateLimit caps provider calls per second; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	// RateBurst is the limiter's burst size.
	RateBurst int `mapstructure:"rate_burst"`
}

// ToolsConfig tunes the tool executor and seeds the capability registry.
type ToolsConfig struct {
	// Timeout bounds one tool-RPC round trip.
	Timeout time.Duration `mapstructure:"timeout"`
	// Endpoints is the configured capability registry.
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
}

// EndpointConfig mirrors one capability registry entry.
type EndpointConfig struct {
	Hostname     string   `mapstructure:"hostname"`
	Active       bool     `mapstructure:"isActive"`
	Capabilities []string `mapstructure:"capabilities"`
}

// EngineConfig tunes session lifecycle management.
type EngineConfig struct {
	// ReaperInterval is how often idle sessions are swept; 0 disables the
	// reaper.
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
	// SessionMaxAge is the idle age after which a session expires.
	SessionMaxAge time.Duration `mapstructure:"session_max_age"`
}

// ToolEndpoints converts the configured registry entries to tool endpoints.
func (c ToolsConfig) ToolEndpoints() []tool.Endpoint {
	out := make([]tool.Endpoint, len(c.Endpoints))
	for i, e := range c.Endpoints {
		out[i] = tool.Endpoint{Hostname: e.Hostname, Active: e.Active, Capabilities: e.Capabilities}
	}
	return out
}

// Load reads configuration from path (optional; empty looks for
// convflow.yaml in the working directory) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("convflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("convflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("memory.window_size", 30)
	v.SetDefault("memory.shard_count", 16)
	v.SetDefault("stream.pace", "0s")
	v.SetDefault("stream.ping_interval", "15s")
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.timeout", "60s")
	v.SetDefault("provider.max_retries", 1)
	v.SetDefault("provider.rate_limit", 0.0)
	v.SetDefault("provider.rate_burst", 1)
	v.SetDefault("tools.timeout", "30s")
	v.SetDefault("engine.reaper_interval", "5m")
	v.SetDefault("engine.session_max_age", "1h")
}

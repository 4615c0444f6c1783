// Package convflow provides a high-level façade over the orchestration
// engine. Most applications interact with this package by:
//  1. Creating an engine via New() (optionally overriding config, provider
//     or stores)
//  2. Calling HandleMessage for each incoming user message
//  3. Subscribing to the session's thought stream for live progress
//
// The façade delegates orchestration to engine.Engine while keeping setup
// concise. All defaults are safe for local development and testing;
// production deployments supply a real provider configuration and a
// structured logger.
package convflow

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/convflow/config"
	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/engine"
	"github.com/hupe1980/convflow/logging"
	"github.com/hupe1980/convflow/model"
	anthropicmodel "github.com/hupe1980/convflow/model/anthropic"
	openaimodel "github.com/hupe1980/convflow/model/openai"
)

// Options configures the façade.
type Options struct {
	// ConfigPath points at a YAML configuration file; empty falls back to
	// convflow.yaml in the working directory, then compiled-in defaults.
	ConfigPath string
	// Config bypasses file loading entirely when set.
	Config *config.Config
	// Provider overrides the configured provider adapter.
	Provider model.Provider
	// Capabilities advertised to the model.
	Capabilities []core.CapabilitySpec
	// Logger for all components.
	Logger logging.Logger
}

// New loads configuration, selects the provider adapter and wires the
// engine.
func New(optFns ...func(o *Options)) (*engine.Engine, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	provider := opts.Provider
	if provider == nil {
		p, err := newProvider(cfg)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	return engine.New(provider, func(o *engine.Options) {
		o.Config = cfg
		o.Capabilities = opts.Capabilities
		o.Logger = opts.Logger
	}), nil
}

func newProvider(cfg *config.Config) (model.Provider, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		return anthropicmodel.NewProvider(func(o *anthropicmodel.Options) {
			if cfg.Provider.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Provider.Model)
			}
		}), nil
	case "openai":
		return openaimodel.NewProvider(func(o *openaimodel.Options) {
			if cfg.Provider.Model != "" {
				o.Model = cfg.Provider.Model
			}
		}), nil
	case "mock":
		return model.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

package tool

import (
	"sync"

	"github.com/hupe1980/convflow/core"
	"github.com/hupe1980/convflow/logging"
)

// Endpoint is one tool-server entry of the capability registry. Only active
// endpoints are eligible invocation targets.
type Endpoint struct {
	Hostname     string   `json:"hostname" mapstructure:"hostname"`
	Active       bool     `json:"isActive" mapstructure:"isActive"`
	Capabilities []string `json:"capabilities" mapstructure:"capabilities"`
}

// Serves reports whether the endpoint advertises the capability. An endpoint
// with no explicit capability list serves everything.
func (e Endpoint) Serves(capability string) bool {
	if len(e.Capabilities) == 0 {
		return true
	}
	for _, c := range e.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Registry holds the capability -> endpoint mapping plus the capability
// schemas advertised to the model. Refresh replaces the endpoint list from
// external configuration; an empty refresh falls back to the compiled-in
// defaults. Reads operate on snapshots so a turn in flight never observes a
// mid-turn mutation.
type Registry struct {
	mu        sync.RWMutex
	endpoints []Endpoint
	specs     []core.CapabilitySpec
	defaults  []Endpoint
	logger    logging.Logger
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Defaults is the fallback endpoint set used when a refresh yields no
	// entries.
	Defaults []Endpoint
	// Logger for refresh diagnostics.
	Logger logging.Logger
}

// NewRegistry constructs a registry seeded with the default endpoints.
func NewRegistry(specs []core.CapabilitySpec, optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		endpoints: append([]Endpoint(nil), opts.Defaults...),
		specs:     append([]core.CapabilitySpec(nil), specs...),
		defaults:  append([]Endpoint(nil), opts.Defaults...),
		logger:    logging.OrNoOp(opts.Logger),
	}
}

// Refresh replaces the endpoint list. Empty input restores the defaults.
func (r *Registry) Refresh(endpoints []Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(endpoints) == 0 {
		r.endpoints = append([]Endpoint(nil), r.defaults...)
		r.logger.Debug("tool.registry.refresh.empty", "fallback_count", len(r.defaults))
		return
	}
	r.endpoints = append([]Endpoint(nil), endpoints...)
	r.logger.Debug("tool.registry.refreshed", "endpoint_count", len(endpoints))
}

// Snapshot returns a copy of the current endpoint list. The workflow executor
// takes one snapshot at tool-branch entry and treats it as read-only for the
// rest of the turn.
func (r *Registry) Snapshot() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Endpoint(nil), r.endpoints...)
}

// Resolve returns the first active endpoint serving the capability.
func (r *Registry) Resolve(capability string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ep := range r.endpoints {
		if ep.Active && ep.Serves(capability) {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Capabilities returns the capability schemas advertised to the model.
func (r *Registry) Capabilities() []core.CapabilitySpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.CapabilitySpec(nil), r.specs...)
}

// Spec returns the declared schema for one capability.
func (r *Registry) Spec(capability string) (core.CapabilitySpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.specs {
		if s.Name == capability {
			return s, true
		}
	}
	return core.CapabilitySpec{}, false
}

package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convflow/core"
)

func TestRegistryRefreshAndFallback(t *testing.T) {
	defaults := []Endpoint{{Hostname: "http://default:8080", Active: true}}
	reg := NewRegistry(nil, func(o *RegistryOptions) { o.Defaults = defaults })

	reg.Refresh([]Endpoint{{Hostname: "http://configured:9090", Active: true}})
	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "http://configured:9090", snap[0].Hostname)

	// Empty refresh restores the compiled-in defaults.
	reg.Refresh(nil)
	snap = reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "http://default:8080", snap[0].Hostname)
}

func TestRegistryResolveSkipsInactive(t *testing.T) {
	reg := NewRegistry(nil, func(o *RegistryOptions) {
		o.Defaults = []Endpoint{
			{Hostname: "http://inactive:8080", Active: false},
			{Hostname: "http://active:8080", Active: true},
		}
	})

	ep, ok := reg.Resolve("anything")
	require.True(t, ok)
	assert.Equal(t, "http://active:8080", ep.Hostname)
}

func TestRegistryResolveByCapability(t *testing.T) {
	reg := NewRegistry(nil, func(o *RegistryOptions) {
		o.Defaults = []Endpoint{
			{Hostname: "http://weather:8080", Active: true, Capabilities: []string{"get_weather"}},
			{Hostname: "http://search:8080", Active: true, Capabilities: []string{"search_web"}},
		}
	})

	ep, ok := reg.Resolve("search_web")
	require.True(t, ok)
	assert.Equal(t, "http://search:8080", ep.Hostname)

	_, ok = reg.Resolve("generate_document")
	assert.False(t, ok)
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	reg := NewRegistry(nil, func(o *RegistryOptions) {
		o.Defaults = []Endpoint{{Hostname: "http://a:1", Active: true}}
	})
	snap := reg.Snapshot()
	snap[0].Hostname = "mutated"

	fresh := reg.Snapshot()
	assert.Equal(t, "http://a:1", fresh[0].Hostname)
}

func TestRegistryCapabilitySpecs(t *testing.T) {
	specs := []core.CapabilitySpec{{Name: "get_weather"}, {Name: "search_web"}}
	reg := NewRegistry(specs)

	assert.Len(t, reg.Capabilities(), 2)
	s, ok := reg.Spec("search_web")
	require.True(t, ok)
	assert.Equal(t, "search_web", s.Name)

	_, ok = reg.Spec("missing")
	assert.False(t, ok)
}

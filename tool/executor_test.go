package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convflow/core"
)

func weatherSpec() []core.CapabilitySpec {
	return []core.CapabilitySpec{
		{
			Name:  "get_weather",
			Group: "weather",
			Parameters: []core.ParamSpec{
				{Name: "city", Type: "string", Required: true},
				{Name: "days", Type: "integer"},
			},
		},
	}
}

func newTestExecutor(t *testing.T, handler http.HandlerFunc) (*Executor, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	reg := NewRegistry(weatherSpec(), func(o *RegistryOptions) {
		o.Defaults = []Endpoint{{Hostname: srv.URL, Active: true}}
	})
	return NewExecutor(reg), srv
}

func TestExecuteSuccess(t *testing.T) {
	var gotParams map[string]any
	exec, _ := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotParams = req.Parameters
		json.NewEncoder(w).Encode(rpcResponse{Result: "sunny, 22C"})
	})

	res := exec.Execute(context.Background(), "get_weather", map[string]any{"city": "Berlin", "days": "3"})
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "sunny, 22C", res.Text)
	// Declared integer parameter arrives coerced.
	assert.Equal(t, float64(3), gotParams["days"]) // JSON round trip yields float64
}

func TestExecuteToolError(t *testing.T) {
	exec, _ := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(rpcResponse{Error: "upstream API quota exceeded"})
	})

	res := exec.Execute(context.Background(), "get_weather", map[string]any{"city": "Berlin"})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, "quota")
}

func TestExecuteUnreachableEndpointSkips(t *testing.T) {
	reg := NewRegistry(weatherSpec(), func(o *RegistryOptions) {
		o.Defaults = []Endpoint{{Hostname: "http://127.0.0.1:1", Active: true}}
	})
	exec := NewExecutor(reg, func(o *ExecutorOptions) { o.Timeout = 2 * time.Second })

	res := exec.Execute(context.Background(), "get_weather", map[string]any{"city": "Berlin"})
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Contains(t, res.Reason, "unreachable")
}

func TestExecuteUnknownCapabilitySkips(t *testing.T) {
	reg := NewRegistry(nil)
	exec := NewExecutor(reg)

	res := exec.Execute(context.Background(), "lookup_papers", nil)
	assert.Equal(t, StatusSkipped, res.Status)
}

func TestExecuteInvalidParameter(t *testing.T) {
	exec, _ := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Result: "unused"})
	})

	res := exec.Execute(context.Background(), "get_weather", map[string]any{"days": "soon"})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Reason, "days")
}

func TestExecuteTimeoutIsExecutionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	reg := NewRegistry(weatherSpec(), func(o *RegistryOptions) {
		o.Defaults = []Endpoint{{Hostname: srv.URL, Active: true}}
	})
	exec := NewExecutor(reg, func(o *ExecutorOptions) { o.Timeout = 20 * time.Millisecond })

	res := exec.Execute(context.Background(), "get_weather", map[string]any{"city": "Berlin"})
	assert.Equal(t, StatusError, res.Status)
}

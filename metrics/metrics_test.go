package metrics

import (
	"testing"

	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerMetricsRegister(t *testing.T) {
	reg := stdprometheus.NewRegistry()
	m := NewServer(reg, "muxrpc")

	m.CallDuration.With(LabelService, "Echo", LabelMethod, "echo_i32", LabelStatus, "ok").Observe(0.01)
	m.InFlight.Add(1)
	m.Connections.Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["muxrpc_server_call_duration_seconds"])
	assert.True(t, names["muxrpc_server_calls_in_flight"])
	assert.True(t, names["muxrpc_server_connections"])
}

func TestClientMetricsRegister(t *testing.T) {
	reg := stdprometheus.NewRegistry()
	m := NewClient(reg, "muxrpc")
	m.Discarded.Add(1)
	m.Pending.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 2, "histogram without observations is not gathered")
}

func TestNopMetrics(t *testing.T) {
	s := NopServer()
	s.CallDuration.With(LabelService, "x").Observe(1)
	s.InFlight.Add(1)

	c := NopClient()
	c.Discarded.Add(1)
	c.Pending.Set(1)
}

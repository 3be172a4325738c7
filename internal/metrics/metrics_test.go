package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ActiveConnections.Inc()
	m.Frames.WithLabelValues("message").Inc()
	m.PersistFailures.WithLabelValues("conflict").Add(2)
	m.PersistLatency.Observe(0.01)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PersistFailures.WithLabelValues("conflict")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "chat_active_connections")
	assert.Contains(t, names, "chat_frames_total")
	assert.Contains(t, names, "chat_message_persist_seconds")
}

func TestNewTwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

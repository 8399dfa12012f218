package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.Metrics)
	assert.NotNil(t, registry.PrometheusRegistry())

	// Core metrics are registered and gatherable.
	registry.Metrics.OSCDecoded.Inc()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "oscquery_osc_decoded_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCoreMetrics_NilReceiver(t *testing.T) {
	var registry *MetricsRegistry
	assert.Nil(t, registry.CoreMetrics())
}

func TestRegisterUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "oscquery",
		Subsystem: "test",
		Name:      "things_total",
		Help:      "test counter",
	})

	require.NoError(t, registry.Register("svc", "things", counter))

	// Duplicate service-scoped names are rejected.
	err := registry.Register("svc", "things", counter)
	require.Error(t, err)

	assert.True(t, registry.Unregister("svc", "things"))
	assert.False(t, registry.Unregister("svc", "things"))

	// After unregistering, the name is free again.
	require.NoError(t, registry.Register("svc", "things", counter))
}

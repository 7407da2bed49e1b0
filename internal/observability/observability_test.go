package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Encoding: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel), "debug level should be enabled")

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LogConfig{Encoding: "xml"})
	assert.Error(t, err)
}

func TestOTelMetricsCachesInstruments(t *testing.T) {
	var failures []string
	metrics := NewOTelMetrics(noop.NewMeterProvider().Meter("test"), func(key string, err error) {
		failures = append(failures, key)
	})

	metrics.Add("sim_ticks_total", 1)
	metrics.Add("sim_ticks_total", 2)
	metrics.Store("sim_particles", 20)

	assert.Len(t, metrics.counters, 1)
	assert.Len(t, metrics.gauges, 1)
	assert.Empty(t, failures)

	var nilMetrics *OTelMetrics
	nilMetrics.Add("ignored", 1)
	nilMetrics.Store("ignored", 1)
}

package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "palm-pilots/server"

// Meter returns the global OpenTelemetry meter for this module.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// OTelMetrics implements telemetry.Metrics on OpenTelemetry instruments:
// Add feeds an Int64Counter and Store records an Int64Gauge, both named after
// the key. Instruments are created lazily and cached.
type OTelMetrics struct {
	meter   metric.Meter
	onError func(key string, err error)

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Int64Gauge
	failed   map[string]struct{}
}

func NewOTelMetrics(meter metric.Meter, onError func(key string, err error)) *OTelMetrics {
	if meter == nil {
		meter = Meter()
	}
	return &OTelMetrics{
		meter:    meter,
		onError:  onError,
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Int64Gauge),
		failed:   make(map[string]struct{}),
	}
}

func (m *OTelMetrics) Add(key string, delta uint64) {
	if m == nil {
		return
	}
	counter, ok := m.counter(key)
	if !ok {
		return
	}
	counter.Add(context.Background(), int64(delta))
}

func (m *OTelMetrics) Store(key string, value uint64) {
	if m == nil {
		return
	}
	gauge, ok := m.gauge(key)
	if !ok {
		return
	}
	gauge.Record(context.Background(), int64(value))
}

func (m *OTelMetrics) counter(key string) (metric.Int64Counter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if counter, ok := m.counters[key]; ok {
		return counter, true
	}
	if _, failed := m.failed[key]; failed {
		return nil, false
	}
	counter, err := m.meter.Int64Counter(key)
	if err != nil {
		m.failLocked(key, err)
		return nil, false
	}
	m.counters[key] = counter
	return counter, true
}

func (m *OTelMetrics) gauge(key string) (metric.Int64Gauge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gauge, ok := m.gauges[key]; ok {
		return gauge, true
	}
	if _, failed := m.failed[key]; failed {
		return nil, false
	}
	gauge, err := m.meter.Int64Gauge(key)
	if err != nil {
		m.failLocked(key, err)
		return nil, false
	}
	m.gauges[key] = gauge
	return gauge, true
}

// failLocked remembers a rejected instrument name so the error is reported once.
func (m *OTelMetrics) failLocked(key string, err error) {
	m.failed[key] = struct{}{}
	if m.onError != nil {
		m.onError(key, err)
	}
}

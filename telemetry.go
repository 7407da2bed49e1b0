package server

import (
	"sync/atomic"
	"time"

	"palm-pilots/server/internal/telemetry"
)

const (
	metricFramesSent     = "hub_frames_sent_total"
	metricBytesSent      = "hub_bytes_sent_total"
	metricFramesDropped  = "hub_frames_dropped_total"
	metricDeduped        = "hub_broadcasts_deduped_total"
	metricViewers        = "hub_viewers"
	metricTickDurationMs = "hub_tick_duration_ms"
)

type telemetryCounters struct {
	framesSent         atomic.Uint64
	bytesSent          atomic.Uint64
	framesDropped      atomic.Uint64
	broadcastsDeduped  atomic.Uint64
	lastBroadcastBytes atomic.Uint64
	lastBroadcastFrame atomic.Uint64
	viewers            atomic.Uint64
	tickDurationMillis atomic.Int64
	lastRTTMillis      atomic.Int64

	metrics telemetry.Metrics
}

// TelemetrySnapshot is the diagnostics view of the hub counters.
type TelemetrySnapshot struct {
	FramesSent         uint64 `json:"framesSent"`
	BytesSent          uint64 `json:"bytesSent"`
	FramesDropped      uint64 `json:"framesDropped"`
	BroadcastsDeduped  uint64 `json:"broadcastsDeduped"`
	LastBroadcastBytes uint64 `json:"lastBroadcastBytes"`
	LastBroadcastFrame uint64 `json:"lastBroadcastFrames"`
	Viewers            uint64 `json:"viewers"`
	TickDuration       int64  `json:"tickDurationMillis"`
	LastRTTMillis      int64  `json:"lastRttMillis"`
}

func newTelemetryCounters(metrics telemetry.Metrics) *telemetryCounters {
	return &telemetryCounters{metrics: metrics}
}

func (t *telemetryCounters) add(key string, delta uint64) {
	if t.metrics != nil && delta > 0 {
		t.metrics.Add(key, delta)
	}
}

func (t *telemetryCounters) store(key string, value uint64) {
	if t.metrics != nil {
		t.metrics.Store(key, value)
	}
}

// RecordFrame counts one frame written to a viewer.
func (t *telemetryCounters) RecordFrame(bytes int) {
	if bytes < 0 {
		bytes = 0
	}
	t.framesSent.Add(1)
	t.bytesSent.Add(uint64(bytes))
	t.add(metricFramesSent, 1)
	t.add(metricBytesSent, uint64(bytes))
}

// RecordBroadcast stores the size of the latest fan-out.
func (t *telemetryCounters) RecordBroadcast(bytes, frames int) {
	if bytes < 0 {
		bytes = 0
	}
	if frames < 0 {
		frames = 0
	}
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastBroadcastFrame.Store(uint64(frames))
}

func (t *telemetryCounters) RecordDrop() {
	t.framesDropped.Add(1)
	t.add(metricFramesDropped, 1)
}

func (t *telemetryCounters) RecordDeduped() {
	t.broadcastsDeduped.Add(1)
	t.add(metricDeduped, 1)
}

func (t *telemetryCounters) RecordViewers(count int) {
	if count < 0 {
		count = 0
	}
	t.viewers.Store(uint64(count))
	t.store(metricViewers, uint64(count))
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	t.store(metricTickDurationMs, uint64(millis))
}

func (t *telemetryCounters) RecordRTT(rtt time.Duration) {
	t.lastRTTMillis.Store(rtt.Milliseconds())
}

func (t *telemetryCounters) Snapshot() TelemetrySnapshot {
	return TelemetrySnapshot{
		FramesSent:         t.framesSent.Load(),
		BytesSent:          t.bytesSent.Load(),
		FramesDropped:      t.framesDropped.Load(),
		BroadcastsDeduped:  t.broadcastsDeduped.Load(),
		LastBroadcastBytes: t.lastBroadcastBytes.Load(),
		LastBroadcastFrame: t.lastBroadcastFrame.Load(),
		Viewers:            t.viewers.Load(),
		TickDuration:       t.tickDurationMillis.Load(),
		LastRTTMillis:      t.lastRTTMillis.Load(),
	}
}

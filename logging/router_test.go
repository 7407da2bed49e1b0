package logging_test

import (
	"context"
	"testing"
	"time"

	"palm-pilots/server/logging"
	"palm-pilots/server/logging/sinks"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestRouterFiltersAndStampsEvents(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityInfo
	cfg.Fields = map[string]any{"variant": "classic"}
	memory := sinks.NewMemorySink()
	metrics := &logging.Metrics{}
	now := time.Unix(1700000000, 0)

	router, err := logging.NewRouter(cfg, fixedClock{now: now}, nil, metrics, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}

	ctx := context.Background()
	router.Publish(ctx, logging.Event{Type: "test.debug", Severity: logging.SeverityDebug})
	router.Publish(ctx, logging.Event{Type: "test.info", Tick: 4, Severity: logging.SeverityInfo})
	router.Publish(ctx, logging.Event{Type: "", Severity: logging.SeverityError})
	router.Publish(ctx, logging.Event{Type: "test.warn", Severity: logging.SeverityWarn, Extra: map[string]any{"variant": "extended"}})

	if err := router.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	events := memory.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events past the severity floor, got %d", len(events))
	}
	if events[0].Type != "test.info" || events[0].Tick != 4 {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if !events[0].Time.Equal(now) {
		t.Fatalf("expected event stamped with router clock, got %v", events[0].Time)
	}
	if events[0].Extra["variant"] != "classic" {
		t.Fatalf("expected router field to be attached, got %v", events[0].Extra)
	}
	if events[1].Extra["variant"] != "extended" {
		t.Fatalf("expected event field to win over router field, got %v", events[1].Extra)
	}

	stats := router.Stats()
	if stats.EventsTotal != 2 || stats.DroppedTotal != 0 {
		t.Fatalf("unexpected router stats %+v", stats)
	}
	if metrics.Snapshot()["logging_events_total"] != 2 {
		t.Fatalf("expected router to mirror event count into metrics, got %v", metrics.Snapshot())
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	memory := sinks.NewMemorySink()
	router, err := logging.NewRouter(logging.DefaultConfig(), nil, nil, nil, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("failed to construct router: %v", err)
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	router.Publish(context.Background(), logging.Event{Type: "late", Severity: logging.SeverityError})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if len(memory.Events()) != 0 {
		t.Fatalf("expected no events after close, got %d", len(memory.Events()))
	}
	if router.Sink("memory") != memory {
		t.Fatalf("expected sink lookup by name")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]logging.Severity{
		"":        logging.SeverityInfo,
		"debug":   logging.SeverityDebug,
		" WARN ":  logging.SeverityWarn,
		"warning": logging.SeverityWarn,
		"error":   logging.SeverityError,
	}
	for raw, want := range cases {
		got, err := logging.ParseSeverity(raw)
		if err != nil || got != want {
			t.Fatalf("ParseSeverity(%q) = %v, %v; want %v", raw, got, err, want)
		}
	}
	if _, err := logging.ParseSeverity("loud"); err == nil {
		t.Fatalf("expected unknown severity to fail")
	}
}

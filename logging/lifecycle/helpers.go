package lifecycle

import (
	"context"

	"palm-pilots/server/logging"
)

const (
	// EventSimulationStarted is emitted once the tick loop is running.
	EventSimulationStarted logging.EventType = "lifecycle.simulation_started"
	// EventSimulationReset is emitted when the world is rebuilt in place.
	EventSimulationReset logging.EventType = "lifecycle.simulation_reset"
	// EventSimulationStopped is emitted when the tick loop exits.
	EventSimulationStopped logging.EventType = "lifecycle.simulation_stopped"
)

// SimulationPayload captures the variant the loop is running.
type SimulationPayload struct {
	Variant         string `json:"variant"`
	TickRate        int    `json:"tickRate"`
	SupportsTurning bool   `json:"supportsTurning"`
	Reason          string `json:"reason,omitempty"`
}

// SimulationStarted publishes the start of the tick loop.
func SimulationStarted(ctx context.Context, pub logging.Publisher, tick uint64, payload SimulationPayload, extra map[string]any) {
	publish(ctx, pub, EventSimulationStarted, logging.SeverityInfo, tick, payload, extra)
}

// SimulationReset publishes an in-place rebuild of the world.
func SimulationReset(ctx context.Context, pub logging.Publisher, tick uint64, payload SimulationPayload, extra map[string]any) {
	publish(ctx, pub, EventSimulationReset, logging.SeverityInfo, tick, payload, extra)
}

// SimulationStopped publishes the end of the tick loop.
func SimulationStopped(ctx context.Context, pub logging.Publisher, tick uint64, payload SimulationPayload, extra map[string]any) {
	publish(ctx, pub, EventSimulationStopped, logging.SeverityInfo, tick, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, tick uint64, payload SimulationPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: "world", Kind: logging.EntityKindWorld},
		Severity: severity,
		Category: "lifecycle",
		Payload:  payload,
		Extra:    extra,
	})
}

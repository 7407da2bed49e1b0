package combat

import (
	"context"

	"palm-pilots/server/logging"
)

const (
	// EventTargetHit is emitted the one time the vehicle's fire reaches the target.
	EventTargetHit logging.EventType = "combat.target_hit"
	// EventTargetDown is emitted when the target's fall animation completes.
	EventTargetDown logging.EventType = "combat.target_down"
)

// TargetHitPayload captures the geometry at the moment of the hit.
type TargetHitPayload struct {
	Distance  float64 `json:"distance"`
	HitRadius float64 `json:"hitRadius"`
	VehicleZ  float64 `json:"vehicleZ"`
	TargetZ   float64 `json:"targetZ"`
	Particles int     `json:"particles"`
}

// TargetDownPayload reports how long the topple took.
type TargetDownPayload struct {
	FallTicks uint64 `json:"fallTicks"`
}

// TargetHit publishes the impact latch event.
func TargetHit(ctx context.Context, pub logging.Publisher, tick uint64, payload TargetHitPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTargetHit,
		Tick:     tick,
		Actor:    logging.VehicleRef(),
		Targets:  []logging.EntityRef{logging.TargetRef()},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// TargetDown publishes completion of the fall animation.
func TargetDown(ctx context.Context, pub logging.Publisher, tick uint64, payload TargetDownPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTargetDown,
		Tick:     tick,
		Actor:    logging.TargetRef(),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

package terrain

import (
	"context"

	"palm-pilots/server/logging"
)

const (
	// EventTileSpawned is emitted when the window grows by one tile.
	EventTileSpawned logging.EventType = "terrain.tile_spawned"
	// EventTileEvicted is emitted when a tile leaves the window.
	EventTileEvicted logging.EventType = "terrain.tile_evicted"
)

// TilePayload identifies a tile and the window length after the change.
type TilePayload struct {
	Z          float64 `json:"z"`
	VehicleZ   float64 `json:"vehicleZ"`
	WindowSize int     `json:"windowSize"`
}

// TileSpawned publishes a debug event for a new tile.
func TileSpawned(ctx context.Context, pub logging.Publisher, tick uint64, payload TilePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTileSpawned,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: "terrain", Kind: logging.EntityKindTerrain},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryTerrain,
		Payload:  payload,
		Extra:    extra,
	})
}

// TileEvicted publishes a debug event for a released tile.
func TileEvicted(ctx context.Context, pub logging.Publisher, tick uint64, payload TilePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTileEvicted,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: "terrain", Kind: logging.EntityKindTerrain},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryTerrain,
		Payload:  payload,
		Extra:    extra,
	})
}

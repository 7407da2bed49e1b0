package network

import (
	"context"

	"palm-pilots/server/logging"
)

const (
	// EventViewerConnected is emitted when a renderer subscribes to the snapshot stream.
	EventViewerConnected logging.EventType = "network.viewer_connected"
	// EventViewerDisconnected is emitted when a renderer's stream ends.
	EventViewerDisconnected logging.EventType = "network.viewer_disconnected"
	// EventRelaySubscribed is emitted when a consumer attaches to the command relay.
	EventRelaySubscribed logging.EventType = "network.relay_subscribed"
)

// ViewerPayload describes a viewer session.
type ViewerPayload struct {
	Encoding string `json:"encoding,omitempty"`
	Remote   string `json:"remote,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Sent     uint64 `json:"sent,omitempty"`
}

// RelayPayload describes a relay subscriber.
type RelayPayload struct {
	Remote      string `json:"remote,omitempty"`
	Subscribers int    `json:"subscribers"`
}

// ViewerConnected publishes a viewer join.
func ViewerConnected(ctx context.Context, pub logging.Publisher, tick uint64, viewerID string, payload ViewerPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventViewerConnected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: viewerID, Kind: logging.EntityKindViewer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// ViewerDisconnected publishes a viewer leave.
func ViewerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, viewerID string, payload ViewerPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventViewerDisconnected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: viewerID, Kind: logging.EntityKindViewer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// RelaySubscribed publishes a new SSE consumer of the command relay.
func RelaySubscribed(ctx context.Context, pub logging.Publisher, payload RelayPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRelaySubscribed,
		Actor:    logging.SourceRef("relay"),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

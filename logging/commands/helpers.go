package commands

import (
	"context"

	"palm-pilots/server/logging"
)

const (
	// EventMalformed is emitted when a message fails both the strict and the relaxed parse.
	EventMalformed logging.EventType = "commands.malformed"
	// EventAccepted is emitted when a command is staged for the next tick.
	EventAccepted logging.EventType = "commands.accepted"
	// EventRejected is emitted when the command queue refuses a parsed command.
	EventRejected logging.EventType = "commands.rejected"
	// EventTransportError is emitted when a command stream fails at the connection level.
	EventTransportError logging.EventType = "commands.transport_error"
)

// MalformedPayload carries the raw message and parser diagnostic.
type MalformedPayload struct {
	Raw   string `json:"raw"`
	Error string `json:"error"`
}

// AcceptedPayload describes a staged command.
type AcceptedPayload struct {
	Command string `json:"command"`
	Raw     string `json:"raw,omitempty"`
}

// RejectedPayload describes a command refused by the queue.
type RejectedPayload struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// TransportErrorPayload describes a stream failure. Streams are never retried.
type TransportErrorPayload struct {
	Endpoint string `json:"endpoint,omitempty"`
	Error    string `json:"error"`
}

// Malformed publishes a recoverable parse failure.
func Malformed(ctx context.Context, pub logging.Publisher, tick uint64, source string, payload MalformedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformed,
		Tick:     tick,
		Actor:    logging.SourceRef(source),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryCommands,
		Payload:  payload,
		Extra:    extra,
	})
}

// Accepted publishes a debug trace for a staged command.
func Accepted(ctx context.Context, pub logging.Publisher, tick uint64, source, commandID string, payload AcceptedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:      EventAccepted,
		Tick:      tick,
		Actor:     logging.SourceRef(source),
		Targets:   []logging.EntityRef{logging.VehicleRef()},
		Severity:  logging.SeverityDebug,
		Category:  logging.CategoryCommands,
		Payload:   payload,
		Extra:     extra,
		CommandID: commandID,
	})
}

// Rejected publishes a warning when the queue refuses a command.
func Rejected(ctx context.Context, pub logging.Publisher, tick uint64, source, commandID string, payload RejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:      EventRejected,
		Tick:      tick,
		Actor:     logging.SourceRef(source),
		Severity:  logging.SeverityWarn,
		Category:  logging.CategoryCommands,
		Payload:   payload,
		Extra:     extra,
		CommandID: commandID,
	})
}

// TransportError publishes a connection-level failure.
func TransportError(ctx context.Context, pub logging.Publisher, tick uint64, source string, payload TransportErrorPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTransportError,
		Tick:     tick,
		Actor:    logging.SourceRef(source),
		Severity: logging.SeverityError,
		Category: logging.CategoryCommands,
		Payload:  payload,
		Extra:    extra,
	})
}

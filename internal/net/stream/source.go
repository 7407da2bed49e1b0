// Package stream reads command messages from remote producers and hands them
// to the intake channel. Sources never reconnect: a transport failure is
// reported once and ends the source.
package stream

import (
	"context"
	"errors"

	"palm-pilots/server/internal/sim"
	"palm-pilots/server/internal/telemetry"
	"palm-pilots/server/logging"
	loggingcommands "palm-pilots/server/logging/commands"
)

// ErrStreamClosed is returned when the remote end finishes the stream.
var ErrStreamClosed = errors.New("stream: closed by remote")

const metricTransportErrors = "commands_transport_errors_total"

// Acceptor consumes one raw command message. intake.Channel implements it.
type Acceptor interface {
	Accept(ctx context.Context, source string, raw []byte) (sim.Command, error)
}

// Source is a long-running command producer.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// Config is shared by every source kind.
type Config struct {
	// Name is used as the command source label. Defaults to the transport name.
	Name      string
	URL       string
	Acceptor  Acceptor
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Tick      func() uint64
}

type base struct {
	name      string
	url       string
	acceptor  Acceptor
	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	tick      func() uint64
}

func newBase(cfg Config, fallbackName string) base {
	b := base{
		name:      cfg.Name,
		url:       cfg.URL,
		acceptor:  cfg.Acceptor,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tick:      cfg.Tick,
	}
	if b.name == "" {
		b.name = fallbackName
	}
	if b.publisher == nil {
		b.publisher = logging.NopPublisher()
	}
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) deliver(ctx context.Context, raw []byte) {
	if b.acceptor == nil {
		return
	}
	// Malformed and rejected messages are already reported by the acceptor.
	_, _ = b.acceptor.Accept(ctx, b.name, raw)
}

func (b *base) fail(ctx context.Context, err error) error {
	var tick uint64
	if b.tick != nil {
		tick = b.tick()
	}
	if b.metrics != nil {
		b.metrics.Add(metricTransportErrors, 1)
	}
	if b.logger != nil {
		b.logger.Printf("[stream] %s %s: %v", b.name, b.url, err)
	}
	loggingcommands.TransportError(context.WithoutCancel(ctx), b.publisher, tick, b.name, loggingcommands.TransportErrorPayload{
		Endpoint: b.url,
		Error:    err.Error(),
	}, nil)
	return err
}

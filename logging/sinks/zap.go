package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"palm-pilots/server/logging"
)

// ZapSink forwards router events to a zap logger, mapping severities onto
// zap levels.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Write(event logging.Event) error {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields,
		zap.Uint64("tick", event.Tick),
		zap.String("actor", formatEntity(event.Actor)),
	)
	if event.Category != "" {
		fields = append(fields, zap.String("category", event.Category))
	}
	if event.CommandID != "" {
		fields = append(fields, zap.String("commandId", event.CommandID))
	}
	if len(event.Targets) > 0 {
		fields = append(fields, zap.Any("targets", event.Targets))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	if len(event.Extra) > 0 {
		fields = append(fields, zap.Any("extra", event.Extra))
	}
	if !event.Time.IsZero() {
		fields = append(fields, zap.Time("eventTime", event.Time))
	}
	s.logger.Log(zapLevel(event.Severity), string(event.Type), fields...)
	return nil
}

func (s *ZapSink) Close(context.Context) error {
	// Sync fails on non-syncable outputs such as stderr on some platforms.
	_ = s.logger.Sync()
	return nil
}

func zapLevel(sev logging.Severity) zapcore.Level {
	switch sev {
	case logging.SeverityDebug:
		return zapcore.DebugLevel
	case logging.SeverityWarn:
		return zapcore.WarnLevel
	case logging.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Package sink delivers sensor trigger events.
//
// Every sink implements sensor.Sink. Log writes a structured record, NATS
// publishes the JSON event, Journal keeps events in a bbolt file, WebSocket
// broadcasts to connected clients and Multi fans out to several sinks.
package sink

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/c360/semsensors/sensor"
)

// Log writes one structured log record per event.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLog returns a Log sink writing at Info level. A nil logger uses
// slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "sink", "sink", "log"), level: slog.LevelInfo}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Push(ctx context.Context, e sensor.Event) error {
	l.logger.LogAttrs(ctx, l.level, "Sensor event",
		slog.String("event_id", e.ID),
		slog.String("sensor", e.Sensor),
		slog.Time("timestamp", e.Timestamp),
		slog.Any("payload", e.Payload),
	)
	return nil
}

// Multi pushes each event to every sink in order. One failing sink does not
// stop delivery to the others; the failures are joined.
type Multi []sensor.Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Push(ctx context.Context, e sensor.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Push(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

var (
	_ sensor.Sink = (*Log)(nil)
	_ sensor.Sink = Multi(nil)
	_ sensor.Sink = (*NATS)(nil)
	_ sensor.Sink = (*Journal)(nil)
	_ sensor.Sink = (*WebSocket)(nil)
)

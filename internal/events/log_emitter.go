package events

import (
	"context"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// LogEmitter forwards to a logger and mirrors Info and above onto the bus as
// log events, so observers see the same lines the log sink gets.
type LogEmitter struct {
	next ports.Logger
	bus  *Bus
}

// NewLogEmitter wraps next.
func NewLogEmitter(next ports.Logger, bus *Bus) *LogEmitter {
	return &LogEmitter{next: next, bus: bus}
}

// Debug logs a message at Debug level. Debug lines are not published.
func (l *LogEmitter) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.next.Debug(ctx, msg, fields...)
}

// Info logs a message at Info level.
func (l *LogEmitter) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.next.Info(ctx, msg, fields...)
	l.publish("INFO", msg, nil, fields)
}

// Warn logs a message at Warning level.
func (l *LogEmitter) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.next.Warn(ctx, msg, fields...)
	l.publish("WARN", msg, nil, fields)
}

// Error logs an error message at Error level.
func (l *LogEmitter) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.next.Error(ctx, err, msg, fields...)
	l.publish("ERROR", msg, err, fields)
}

func (l *LogEmitter) publish(level, msg string, err error, fields []map[string]interface{}) {
	rec := domain.LogRecord{Level: level, Message: msg}
	if err != nil {
		rec.Error = err.Error()
	}
	if len(fields) > 0 && fields[0] != nil {
		rec.Fields = make(map[string]interface{}, len(fields[0]))
		for k, v := range fields[0] {
			rec.Fields[k] = v
		}
	}
	l.bus.Publish(domain.EventLog, rec)
}

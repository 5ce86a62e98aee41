package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const loggerKey contextKey = "logger"

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context carrying the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// ForPosition derives a logger scoped to one tracked position.
func (l *Logger) ForPosition(mint, strategyTag string) *Logger {
	return l.WithFields(map[string]interface{}{
		"mint":         mint,
		"strategy_tag": strategyTag,
	})
}

// ForExit derives a logger scoped to one exit flow. Every log line of the
// flow carries the trigger reason so the audit trail and the log stream
// can be correlated.
func (l *Logger) ForExit(mint, reason string) *Logger {
	return l.WithFields(map[string]interface{}{
		"mint":   mint,
		"reason": reason,
	})
}

// ForCommand derives a logger scoped to one external command.
func (l *Logger) ForCommand(id, action, source string) *Logger {
	return l.WithFields(map[string]interface{}{
		"command_id": id,
		"action":     action,
		"source":     source,
	})
}

// ForEndpoint derives a logger scoped to one submission endpoint.
func (l *Logger) ForEndpoint(name string) *Logger {
	return l.WithField("endpoint", name)
}

package server

import (
	"context"
	"log/slog"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ctxKeyLogger is the context key for the per-invocation logger
	ctxKeyLogger contextKey = "invocation-logger"
)

func withLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// loggerFromContext returns the logger tagged with the current tool
// invocation, or fallback outside of one.
func loggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if v := ctx.Value(ctxKeyLogger); v != nil {
		if logger, ok := v.(*slog.Logger); ok {
			return logger
		}
	}
	return fallback
}

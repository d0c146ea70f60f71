// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableRepoLogging bool
	EnableWSLogging   bool
}

// Config holds the current logging configuration.
var Config = LoggingConfig{
	EnableRepoLogging: true,
	EnableWSLogging:   true,
}

// RepoLogger provides structured logging for repository write operations.
type RepoLogger struct {
	table  string
	logger *slog.Logger
}

// NewRepoLogger creates a RepoLogger for table writing through logger.
// A nil logger uses slog.Default().
func NewRepoLogger(logger *slog.Logger, table string) *RepoLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoLogger{table: table, logger: logger}
}

// LogWrite logs a create, update or delete.
func (l *RepoLogger) LogWrite(ctx context.Context, operation string, attrs ...any) {
	if !Config.EnableRepoLogging {
		return
	}
	base := []any{slog.String("table", l.table), slog.String("operation", operation)}
	l.logger.DebugContext(ctx, "repository write", append(base, attrs...)...)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableRepoLogging {
		return
	}
	l.logger.ErrorContext(ctx, "repository error",
		slog.String("table", l.table),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hub    string
	logger *slog.Logger
}

// NewWSLogger creates a WSLogger for the named hub.
func NewWSLogger(logger *slog.Logger, hub string) *WSLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSLogger{hub: hub, logger: logger}
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, room string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "websocket connected", slog.String("hub", l.hub), slog.String("room", room))
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, room, reason string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hub),
		slog.String("room", room),
		slog.String("reason", reason),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, room string, err error, eventType string) {
	if !Config.EnableWSLogging {
		return
	}
	l.logger.ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hub),
		slog.String("room", room),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

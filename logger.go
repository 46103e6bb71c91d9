package tilecache

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/tilecache/model"
)

// Logger wraps slog.Logger with cache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithTile adds a tile field to the logger.
func (l *Logger) WithTile(id model.TileID) *Logger {
	return &Logger{
		Logger: l.Logger.With("tile", id.String()),
	}
}

// WithEnvelope adds an envelope field to the logger.
func (l *Logger) WithEnvelope(env model.Envelope) *Logger {
	return &Logger{
		Logger: l.Logger.With("envelope", env.String()),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogFetch logs a backing-source fetch covering one run of tiles.
func (l *Logger) LogFetch(ctx context.Context, env model.Envelope, tiles, records int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "source fetch failed",
			"envelope", env.String(),
			"tiles", tiles,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "source fetch completed",
			"envelope", env.String(),
			"tiles", tiles,
			"records", records,
			"duration", d,
		)
	}
}

// LogOversized logs a query whose tiles were served without being cached.
func (l *Logger) LogOversized(ctx context.Context, env model.Envelope, err error) {
	l.InfoContext(ctx, "query exceeds cache capacity, serving uncached",
		"envelope", env.String(),
		"reason", err,
	)
}

// LogUnreadableTile logs a registered tile that could not be read back.
func (l *Logger) LogUnreadableTile(ctx context.Context, id model.TileID, err error) {
	l.WarnContext(ctx, "cached tile unreadable, refetching",
		"tile", id.String(),
		"error", err,
	)
}

// LogInvalidate logs tiles dropped because their region changed.
func (l *Logger) LogInvalidate(ctx context.Context, env model.Envelope, tiles int) {
	l.DebugContext(ctx, "tiles invalidated",
		"envelope", env.String(),
		"tiles", tiles,
	)
}

// LogClear logs a cache clear.
func (l *Logger) LogClear(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "cache clear failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "cache cleared")
	}
}

package bufalloc

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with allocator-specific context.
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
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithZone adds a zone field to the logger.
func (l *Logger) WithZone(zone int) *Logger {
	return &Logger{
		Logger: l.Logger.With("zone", zone),
	}
}

// LogChunkAlloc logs the allocation of a new chunk.
func (l *Logger) LogChunkAlloc(ctx context.Context, addr uintptr, chunks int) {
	l.DebugContext(ctx, "chunk allocated",
		"addr", addr,
		"chunks", chunks,
	)
}

// LogChunkRelease logs a chunk returned to the page allocator.
func (l *Logger) LogChunkRelease(ctx context.Context, addr uintptr, swept bool) {
	l.DebugContext(ctx, "chunk released",
		"addr", addr,
		"swept", swept,
	)
}

// LogSweep logs a completed background sweep.
func (l *Logger) LogSweep(ctx context.Context, gen Generation, chunks, released, largeFreed int, bytesFreed int64) {
	l.DebugContext(ctx, "sweep completed",
		"generation", gen.String(),
		"chunks", chunks,
		"released", released,
		"large_freed", largeFreed,
		"bytes_freed", bytesFreed,
	)
}

// LogStateChange logs a collection state transition.
func (l *Logger) LogStateChange(ctx context.Context, from, to string) {
	l.DebugContext(ctx, "collection state changed",
		"from", from,
		"to", to,
	)
}

// LogAllocFailure logs a failed allocation.
func (l *Logger) LogAllocFailure(ctx context.Context, bytes int, err error) {
	l.WarnContext(ctx, "allocation failed",
		"bytes", bytes,
		"error", err,
	)
}

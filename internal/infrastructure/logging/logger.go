// Package logging provides structured logging infrastructure for the quotedesk
// sync engine. It wraps Go's standard log/slog package with context-aware
// logging, correlation IDs, and sync-domain log attributes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// contextKey is used for storing logger-related values in context.
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"
	// OperationIDKey is the context key for sync operation IDs.
	OperationIDKey contextKey = "operation_id"
	// EntityTypeKey is the context key for entity types.
	EntityTypeKey contextKey = "entity_type"
	// EntityIDKey is the context key for entity IDs.
	EntityIDKey contextKey = "entity_id"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     os.Stderr,
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger with additional functionality for quotedesk.
type Logger struct {
	slogger *slog.Logger
	level   slog.Level
	mu      sync.RWMutex
}

// global is the package-level default logger.
var (
	global     *Logger
	globalOnce sync.Once
)

// Init initializes the global logger with the provided configuration.
func Init(cfg Config) *Logger {
	globalOnce.Do(func() {
		global = New(cfg)
	})
	return global
}

// Default returns the global logger, initializing it with defaults if necessary.
func Default() *Logger {
	if global == nil {
		Init(DefaultConfig())
	}
	return global
}

// New creates a new Logger with the provided configuration.
func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize time format
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		slogger: slog.New(handler),
		level:   level,
	}
}

// parseLevel converts a Level to slog.Level.
func parseLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel dynamically changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = parseLevel(level)
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slogger: l.slogger.With(args...),
		level:   l.level,
	}
}

// WithGroup returns a new Logger with the given group name.
func (l *Logger) WithGroup(name string) *Logger {
	return &Logger{
		slogger: l.slogger.WithGroup(name),
		level:   l.level,
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}

// DebugContext logs at debug level with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// InfoContext logs at info level with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// WarnContext logs at warn level with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// ErrorContext logs at error level with context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// enrichArgs extracts context values and adds them as log attributes.
func (l *Logger) enrichArgs(ctx context.Context, args []any) []any {
	enriched := make([]any, 0, len(args)+8)

	// Extract standard context values
	if v := ctx.Value(CorrelationIDKey); v != nil {
		enriched = append(enriched, "correlation_id", v)
	}
	if v := ctx.Value(OperationIDKey); v != nil {
		enriched = append(enriched, "operation_id", v)
	}
	if v := ctx.Value(EntityTypeKey); v != nil {
		enriched = append(enriched, "entity_type", v)
	}
	if v := ctx.Value(EntityIDKey); v != nil {
		enriched = append(enriched, "entity_id", v)
	}

	enriched = append(enriched, args...)
	return enriched
}

// Underlying returns the underlying slog.Logger.
func (l *Logger) Underlying() *slog.Logger {
	return l.slogger
}

// --- Context helpers ---

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithOperationID adds a sync operation ID to the context.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OperationIDKey, id)
}

// WithEntity adds the entity type and ID to the context.
func WithEntity(ctx context.Context, entityType, entityID string) context.Context {
	ctx = context.WithValue(ctx, EntityTypeKey, entityType)
	return context.WithValue(ctx, EntityIDKey, entityID)
}

// CorrelationID extracts the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if v := ctx.Value(CorrelationIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// --- Domain-specific logging helpers ---

// LogDrainStart logs the start of a queue drain pass.
func LogDrainStart(ctx context.Context, logger *Logger, pending int) {
	logger.InfoContext(ctx, "queue drain started",
		"pending_count", pending,
	)
}

// LogDrainComplete logs the completion of a queue drain pass.
func LogDrainComplete(ctx context.Context, logger *Logger, delivered, failed, evicted int, duration time.Duration) {
	logger.InfoContext(ctx, "queue drain completed",
		"delivered", delivered,
		"failed", failed,
		"evicted", evicted,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogOperationDelivered logs a successfully delivered operation.
func LogOperationDelivered(ctx context.Context, logger *Logger, opID string, remoteVersion int64) {
	logger.DebugContext(ctx, "operation delivered",
		"operation_id", opID,
		"remote_version", remoteVersion,
	)
}

// LogOperationFailed logs a failed delivery attempt.
func LogOperationFailed(ctx context.Context, logger *Logger, opID string, retryCount int, err error) {
	logger.WarnContext(ctx, "operation delivery failed",
		"operation_id", opID,
		"retry_count", retryCount,
		"error", err.Error(),
	)
}

// LogOperationEvicted logs an operation evicted after the retry ceiling.
func LogOperationEvicted(ctx context.Context, logger *Logger, opID string, retryCount int, lastError string) {
	logger.ErrorContext(ctx, "operation evicted after retry ceiling",
		"operation_id", opID,
		"retry_count", retryCount,
		"last_error", lastError,
	)
}

// LogConflictResolved logs a conflict resolution outcome.
func LogConflictResolved(ctx context.Context, logger *Logger, entityID, strategy string, droppedFields int) {
	logger.InfoContext(ctx, "conflict resolved",
		"entity_id", entityID,
		"strategy", strategy,
		"dropped_local_fields", droppedFields,
	)
}

// LogConnectivityChange logs an online/offline transition.
func LogConnectivityChange(ctx context.Context, logger *Logger, online bool) {
	logger.InfoContext(ctx, "connectivity changed",
		"online", online,
	)
}

// LogRepairComplete logs the outcome of a repair pass.
func LogRepairComplete(ctx context.Context, logger *Logger, reenqueued int, duration time.Duration) {
	logger.InfoContext(ctx, "repair completed",
		"reenqueued", reenqueued,
		"duration_ms", duration.Milliseconds(),
	)
}

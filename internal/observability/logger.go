package observability

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a wrapper around zap.Logger with additional convenience methods.
type Logger struct {
	*zap.Logger
}

// loggerContextKey is the context key for storing logger instances.
type loggerContextKey struct{}

// userIDContextKey and cycleIDContextKey let callers thread identifiers
// into logger fields without this package depending on their owners.
type userIDContextKey struct{}
type cycleIDContextKey struct{}

var (
	// GlobalLogger is the default logger instance. Exported for testing.
	GlobalLogger *Logger
)

// InitLogger initializes the global logger with the specified environment
// Valid environments: development, test, staging, production.
func InitLogger(env string) (*Logger, error) {
	var config zap.Config

	switch env {
	case "development", "test":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production", "staging":
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid environment: %s (must be development, test, staging, or production)", env)
	}

	// Set log level from environment variable if provided
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := config.Build(
		zap.AddCallerSkip(1), // Skip wrapper functions in stack trace
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	logger := &Logger{Logger: zapLogger}
	GlobalLogger = logger

	return logger, nil
}

// GetLogger returns the global logger instance
// Panics if InitLogger has not been called.
func GetLogger() *Logger {
	if GlobalLogger == nil {
		panic("logger not initialized - call InitLogger first")
	}
	return GlobalLogger
}

// WithContext creates a new logger with fields from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := ExtractContextFields(ctx)
	if len(fields) > 0 {
		return &Logger{Logger: l.With(fields...)}
	}
	return l
}

// WithFields creates a new logger with additional fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.With(fields...)}
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.With(zap.Error(err))}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.With(zap.String("component", component))}
}

// ContextWithLogger adds the logger to the context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext retrieves the logger from context
// Returns the global logger if not found in context.
func LoggerFromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return logger
	}
	return GetLogger()
}

// ContextWithUserID returns a context annotated with a user ID for logging.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// ContextWithCycleID returns a context annotated with a scheduler cycle ID for logging.
func ContextWithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleIDContextKey{}, cycleID)
}

// ExtractContextFields extracts logging fields from context.
func ExtractContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field

	if userID, ok := ctx.Value(userIDContextKey{}).(string); ok && userID != "" {
		fields = append(fields, zap.String("userID", userID))
	}
	if cycleID, ok := ctx.Value(cycleIDContextKey{}).(string); ok && cycleID != "" {
		fields = append(fields, zap.String("cycleID", cycleID))
	}

	return fields
}

// Sync flushes any buffered log entries.
// Should be called before application shutdown.
func (l *Logger) Sync() error {
	if err := l.Logger.Sync(); err != nil {
		return fmt.Errorf("failed to sync logger: %w", err)
	}
	return nil
}

// Helper methods for common logging patterns

// LogAdapterOperation logs a provider adapter operation.
func (l *Logger) LogAdapterOperation(operation, provider string, subscriptionID string, err error) {
	if err != nil {
		l.Error("adapter operation failed",
			zap.String("operation", operation),
			zap.String("provider", provider),
			zap.String("subscriptionID", subscriptionID),
			zap.Error(err),
		)
	} else {
		l.Info("adapter operation completed",
			zap.String("operation", operation),
			zap.String("provider", provider),
			zap.String("subscriptionID", subscriptionID),
		)
	}
}

// LogIngestEvent logs an ingestion-pipeline event.
func (l *Logger) LogIngestEvent(eventType, itemID string, details map[string]interface{}) {
	fields := []zap.Field{
		zap.String("event", eventType),
		zap.String("itemID", itemID),
	}

	for key, value := range details {
		fields = append(fields, zap.Any(key, value))
	}

	l.Info("ingest event", fields...)
}

// LogKVOperation logs a KV store operation.
func (l *Logger) LogKVOperation(operation string, key string, err error) {
	if err != nil {
		l.Error("kv operation failed",
			zap.String("operation", operation),
			zap.String("key", key),
			zap.Error(err),
		)
	} else {
		l.Debug("kv operation completed",
			zap.String("operation", operation),
			zap.String("key", key),
		)
	}
}

// LogCycle logs the outcome of a completed scheduler poll cycle.
func (l *Logger) LogCycle(cycleID string, processed, newItems, errorCount int, err error) {
	fields := []zap.Field{
		zap.String("cycleID", cycleID),
		zap.Int("processed", processed),
		zap.Int("newItems", newItems),
		zap.Int("errors", errorCount),
	}
	if err != nil {
		l.Error("poll cycle failed", append(fields, zap.Error(err))...)
		return
	}
	l.Info("poll cycle completed", fields...)
}

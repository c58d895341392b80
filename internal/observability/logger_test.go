package observability_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/briefloop/ingestcore/internal/observability"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		wantErr bool
	}{
		{name: "development environment", env: "development", wantErr: false},
		{name: "production environment", env: "production", wantErr: false},
		{name: "staging environment", env: "staging", wantErr: false},
		{name: "invalid environment", env: "invalid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observability.GlobalLogger = nil

			logger, err := observability.InitLogger(tt.env)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, logger)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.NotNil(t, logger.Logger)

			_ = logger.Sync()
		})
	}
}

func TestInitLoggerWithLogLevel(t *testing.T) {
	observability.GlobalLogger = nil

	_ = os.Setenv("LOG_LEVEL", "warn")
	defer func() { _ = os.Unsetenv("LOG_LEVEL") }()

	logger, err := observability.InitLogger("production")
	require.NoError(t, err)
	require.NotNil(t, logger)

	_ = logger.Sync()
}

func TestInitLoggerInvalidLogLevel(t *testing.T) {
	observability.GlobalLogger = nil

	_ = os.Setenv("LOG_LEVEL", "invalid")
	defer func() { _ = os.Unsetenv("LOG_LEVEL") }()

	logger, err := observability.InitLogger("production")
	require.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestGetLogger(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	retrieved := observability.GetLogger()
	require.NotNil(t, retrieved)
	assert.Equal(t, logger, retrieved)
}

func TestGetLoggerPanicsWhenNotInitialized(t *testing.T) {
	observability.GlobalLogger = nil

	assert.Panics(t, func() {
		observability.GetLogger()
	})
}

func TestLoggerWithContext(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	contextLogger := logger.WithContext(ctx)
	require.NotNil(t, contextLogger)
}

func TestLoggerWithFields(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	fieldsLogger := logger.WithFields(
		zap.String("key1", "value1"),
		zap.Int("key2", 42),
	)
	require.NotNil(t, fieldsLogger)
	assert.NotEqual(t, logger, fieldsLogger)
}

func TestLoggerWithError(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	errorLogger := logger.WithError(assert.AnError)
	require.NotNil(t, errorLogger)
}

func TestLoggerWithComponent(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	componentLogger := logger.WithComponent("scheduler")
	require.NotNil(t, componentLogger)
}

func TestContextWithLogger(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	ctxWithLogger := observability.ContextWithLogger(ctx, logger)
	require.NotNil(t, ctxWithLogger)

	retrieved := observability.LoggerFromContext(ctxWithLogger)
	require.NotNil(t, retrieved)
	assert.Equal(t, logger, retrieved)
}

func TestLoggerFromContextFallsBackToGlobal(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	retrieved := observability.LoggerFromContext(ctx)
	require.NotNil(t, retrieved)
	assert.Equal(t, logger, retrieved)
}

func TestExtractContextFieldsWithUserAndCycle(t *testing.T) {
	ctx := context.Background()
	ctx = observability.ContextWithUserID(ctx, "user-123")
	ctx = observability.ContextWithCycleID(ctx, "cycle-456")

	fields := observability.ExtractContextFields(ctx)
	assert.Len(t, fields, 2)
}

func TestExtractContextFieldsEmpty(t *testing.T) {
	ctx := context.Background()
	fields := observability.ExtractContextFields(ctx)
	assert.Len(t, fields, 0)
}

func TestLogAdapterOperation(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	logger.LogAdapterOperation("PollOne", "video", "sub-123", nil)
	logger.LogAdapterOperation("PollOne", "video", "sub-456", assert.AnError)
}

func TestLogIngestEvent(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	details := map[string]interface{}{
		"provider": "video",
		"created":  true,
	}

	logger.LogIngestEvent("item.ingested", "item-123", details)
}

func TestLogKVOperation(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	logger.LogKVOperation("SET", "lock:sub:123", nil)
	logger.LogKVOperation("GET", "quota:video:2026-07-31", assert.AnError)
}

func TestLogCycle(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	logger.LogCycle("cycle-1", 42, 7, 0, nil)
	logger.LogCycle("cycle-2", 10, 0, 3, assert.AnError)
}

func TestLogLevels(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()

	logger.Debug("debug message", zap.String("level", "debug"))
	logger.Info("info message", zap.String("level", "info"))
	logger.Warn("warn message", zap.String("level", "warn"))
	logger.Error("error message", zap.String("level", "error"))
}

func TestLoggerSync(t *testing.T) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("development")
	require.NoError(t, err)

	_ = logger.Sync()
}

func BenchmarkLoggerInfo(b *testing.B) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("production")
	require.NoError(b, err)
	defer func() { _ = logger.Sync() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("benchmark test",
			zap.String("key", "value"),
			zap.Int("iteration", i),
		)
	}
}

func BenchmarkLogAdapterOperation(b *testing.B) {
	observability.GlobalLogger = nil
	logger, err := observability.InitLogger("production")
	require.NoError(b, err)
	defer func() { _ = logger.Sync() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.LogAdapterOperation("PollOne", "video", "sub-1", nil)
	}
}

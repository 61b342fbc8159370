package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "info message", entry["msg"])
	})

	t.Run("warn and error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		assert.NotZero(t, buf.Len())

		buf.Reset()
		logger.Errorf("error %d", 7)
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "error", entry["level"])
		assert.Equal(t, "error 7", entry["msg"])
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("source", "lammp").
		WithFields(map[string]interface{}{"users": 3}).
		WithError(errors.New("boom")).
		Debug("fetched")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "lammp", entry["source"])
	assert.Equal(t, float64(3), entry["users"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUserID(ctx, "42")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "42", GetUserID(ctx))

	FromContext(ctx).Info("hello")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "42", entry["user_id"])

	assert.Same(t, GetLogger(context.Background()), GetLogger(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestLogLevel_OutOfRange(t *testing.T) {
	assert.Equal(t, "INFO", LogLevel(9).String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, logrus.InfoLevel, LogLevel(-1).toLogrusLevel())
}

func TestPanicError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	run := func() (err error) {
		defer func() { err = PanicError(logger, "fetch", recover()) }()
		panic("kaboom")
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Contains(t, buf.String(), "PANIC recovered")

	assert.NoError(t, PanicError(logger, "noop", nil))
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "job")
		panic("job failed")
	})
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "job", entry["context"])
	assert.Equal(t, "job failed", entry["panic"])
}

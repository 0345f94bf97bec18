package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sharepool/pkg/logger"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText))
		log.Info("hello")
		assert.Contains(t, buf.String(), "level=INFO")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("static attributes", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithAttr(slog.String("svc", "test")))
		log.Info("msg")
		assert.Equal(t, "test", decode(t, buf)["svc"])
	})

	t.Run("context value", func(t *testing.T) {
		t.Parallel()
		type key struct{}
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithContextValue("request_id", key{}))

		ctx := context.WithValue(context.Background(), key{}, "req-42")
		log.InfoContext(ctx, "with ctx")
		assert.Equal(t, "req-42", decode(t, buf)["request_id"])
	})

	t.Run("context value missing", func(t *testing.T) {
		t.Parallel()
		type key struct{}
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithContextValue("request_id", key{}))

		log.InfoContext(context.Background(), "no ctx")
		assert.NotContains(t, decode(t, buf), "request_id")
	})

	t.Run("extractors survive With", func(t *testing.T) {
		t.Parallel()
		type key struct{}
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithContextExtractors(
			func(ctx context.Context) (slog.Attr, bool) {
				v, ok := ctx.Value(key{}).(string)
				return slog.String("trace", v), ok
			},
		)).With(logger.Component("orders"))

		log.InfoContext(context.WithValue(context.Background(), key{}, "t-1"), "msg")
		entry := decode(t, buf)
		assert.Equal(t, "t-1", entry["trace"])
		assert.Equal(t, "orders", entry["component"])
	})
}

func TestWithEnvironment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env       string
		wantEnv   string
		wantDebug bool
	}{
		{env: "production", wantEnv: "production"},
		{env: "prod", wantEnv: "production"},
		{env: "stage", wantEnv: "staging"},
		{env: "development", wantEnv: "development", wantDebug: true},
		{env: "whatever", wantEnv: "development", wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			log := logger.New(
				logger.WithEnvironment(tt.env, "sharepool"),
				logger.WithOutput(buf),
			)
			assert.Equal(t, tt.wantDebug, log.Enabled(context.Background(), slog.LevelDebug))
			log.Warn("msg")
			out := buf.String()
			assert.Contains(t, out, "sharepool")
			assert.Contains(t, out, tt.wantEnv)
		})
	}
}

func TestWithLevelName(t *testing.T) {
	t.Parallel()

	log := logger.New(logger.WithLevelName("warn"), logger.WithOutput(&bytes.Buffer{}))
	assert.False(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, log.Enabled(context.Background(), slog.LevelWarn))

	assert.Panics(t, func() { logger.New(logger.WithLevelName("loud")) })
}

func TestWithFormatPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		logger.New(logger.WithFormat(logger.Format("xml")))
	})
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	log := logger.Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
}

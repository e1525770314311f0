package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecast/internal/config"
)

func jsonLogger(level string) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLoggerWithWriter(config.LoggingConfig{Level: level, Format: "json"}, &buf), &buf
}

func TestNewLogger_JSONFormat(t *testing.T) {
	logger, buf := jsonLogger("info")
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
	assert.Equal(t, "INFO", parsed["level"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"trace logs at trace level", "trace", LevelTrace, true},
		{"debug does not log trace", "debug", LevelTrace, false},
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"error logs at error level", "error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := jsonLogger(tt.configLevel)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelDisplay(t *testing.T) {
	logger, buf := jsonLogger("trace")
	logger.Log(context.Background(), LevelTrace, "frame written")

	assert.Contains(t, buf.String(), `"level":"TRACE"`)
	assert.NotContains(t, buf.String(), "DEBUG-4")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestNewLogger_AddSource(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json", AddSource: true}, &buf)
	logger.Info("test message")

	assert.Contains(t, buf.String(), `"logpos":"internal/observability/logger_test.go:`)
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json", TimeFormat: "2006-01-02"}, &buf)
	logger.Info("test message")

	assert.Contains(t, buf.String(), `"time":"`+time.Now().Format("2006-01-02")+`"`)
}

func TestWithHelpers(t *testing.T) {
	logger, buf := jsonLogger("info")

	enriched := WithError(
		WithSession(
			WithChannel(
				WithComponent(WithApp(logger, "framecast", "1.2.3"), "encoder"),
				"left",
			),
			"01HZX",
		),
		errors.New("broken pipe"),
	)
	enriched.Info("chained")

	output := buf.String()
	assert.Contains(t, output, `"app":"framecast"`)
	assert.Contains(t, output, `"version":"1.2.3"`)
	assert.Contains(t, output, `"component":"encoder"`)
	assert.Contains(t, output, `"channel":"left"`)
	assert.Contains(t, output, `"session_id":"01HZX"`)
	assert.Contains(t, output, `"error":"broken pipe"`)

	assert.Same(t, logger, WithError(logger, nil))
}

func TestContextWithLogger(t *testing.T) {
	logger, _ := jsonLogger("info")
	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))
}

func TestRequestLoggingToggle(t *testing.T) {
	t.Cleanup(func() { SetRequestLogging(false) })

	SetRequestLogging(true)
	assert.True(t, IsRequestLoggingEnabled())
	SetRequestLogging(false)
	assert.False(t, IsRequestLoggingEnabled())
}

func TestTimedOperation(t *testing.T) {
	logger, buf := jsonLogger("info")
	done := TimedOperation(context.Background(), logger, "open_sinks")
	done()

	output := buf.String()
	assert.Contains(t, output, "operation started")
	assert.Contains(t, output, "operation completed")
	assert.Contains(t, output, "open_sinks")
	assert.Contains(t, output, "duration")
}

func TestTimedOperationWithError(t *testing.T) {
	logger, buf := jsonLogger("info")

	var err error
	done := TimedOperationWithError(context.Background(), logger, "close_sinks", &err)
	done()
	assert.Contains(t, buf.String(), "operation completed")
	assert.NotContains(t, buf.String(), "operation failed")

	buf.Reset()
	done = TimedOperationWithError(context.Background(), logger, "close_sinks", &err)
	err = errors.New("ffmpeg exited with status 1")
	done()
	assert.Contains(t, buf.String(), "operation failed")
	assert.Contains(t, buf.String(), "ffmpeg exited with status 1")
}

func TestSensitiveFieldRedaction(t *testing.T) {
	for _, field := range []string{"password", "Password", "secret", "token", "ApiKey", "api_key", "Credential"} {
		t.Run(field, func(t *testing.T) {
			logger, buf := jsonLogger("info")
			logger.Info("login", slog.String(field, "hunter2"))

			assert.NotContains(t, buf.String(), "hunter2")
			assert.Contains(t, buf.String(), RedactMessage)
		})
	}
}

func TestSensitiveFieldRedaction_Group(t *testing.T) {
	logger, buf := jsonLogger("info")
	logger.Info("catalog",
		slog.Group("credentials",
			slog.String("username", "admin"),
			slog.String("password", "secret123"),
		),
	)

	assert.Contains(t, buf.String(), "admin")
	assert.NotContains(t, buf.String(), "secret123")
}

func TestDSNRedaction(t *testing.T) {
	tests := []struct {
		name   string
		dsn    string
		secret string
		keep   string
	}{
		{"postgres url", "postgres://rec:s3cr3t@db:5432/framecast?sslmode=disable", "s3cr3t", "postgres://rec:"},
		{"mysql dsn", "rec:s3cr3t@tcp(127.0.0.1:3306)/framecast?parseTime=true", "s3cr3t", "@tcp(127.0.0.1:3306)"},
		{"query password", "host=db user=rec password=s3cr3t dbname=framecast", "s3cr3t", "dbname=framecast"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := jsonLogger("info")
			logger.Info("opening catalog", slog.String("dsn", tt.dsn))

			assert.NotContains(t, buf.String(), tt.secret)
			assert.Contains(t, buf.String(), tt.keep)
			assert.Contains(t, buf.String(), RedactMessage)
		})
	}
}

func TestDSNRedaction_Struct(t *testing.T) {
	logger, buf := jsonLogger("info")
	logger.Info("config", slog.Any("catalog", config.CatalogConfig{
		Driver: "postgres",
		DSN:    "postgres://rec:s3cr3t@db/framecast",
	}))

	assert.NotContains(t, buf.String(), "s3cr3t")
	assert.Contains(t, buf.String(), "postgres")
}

func TestNonSensitiveDataNotRedacted(t *testing.T) {
	logger, buf := jsonLogger("info")
	logger.Info("encoder started",
		slog.String("command", "ffmpeg -f rawvideo -s:v 832x640 -i pipe:0 out.mp4"),
		slog.String("url", "http://127.0.0.1:9464/metrics?format=text"),
		slog.Int("pid", 4242),
	)

	output := buf.String()
	assert.Contains(t, output, "832x640")
	assert.Contains(t, output, "format=text")
	assert.Contains(t, output, "4242")
	assert.NotContains(t, output, RedactMessage)
}

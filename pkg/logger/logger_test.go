package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&Config{Level: "info", Format: "json"}, &buf)

	slog.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("Expected JSON output, got %s", buf.String())
	}

	buf.Reset()
	slog.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected debug to be filtered at info level, got %s", buf.String())
	}
}

func TestWithContextCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&Config{Level: "debug", Format: "text"}, &buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-123")
	ctx = context.WithValue(ctx, UserIDKey, "user-9")
	ctx = WithOrder(ctx, "order-1")

	Info(ctx, "pipeline step")

	out := buf.String()
	for _, want := range []string{"request_id=req-123", "user_id=user-9", "order_id=order-1", "pipeline step"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in log output %q", want, out)
		}
	}
}

func TestLogFunctions(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&Config{Level: "debug", Format: "text"}, &buf)

	ctx := context.Background()

	Debug(ctx, "debug message")
	if !strings.Contains(buf.String(), "debug message") {
		t.Error("Expected debug message in log")
	}

	buf.Reset()
	Warn(ctx, "warn message")
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Error("Expected WARN level in log")
	}

	buf.Reset()
	Error(ctx, "error message")
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Error("Expected ERROR level in log")
	}
}

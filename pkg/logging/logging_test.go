package logging

import (
	"bytes"
	"encoding/json"
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
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{" error ", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{"LOG_LEVEL": "debug", "LOG_FORMAT": "JSON"}
	cfg := FromEnv(func(k string) string { return env[k] })

	if cfg.Level != slog.LevelDebug {
		t.Errorf("level: got %v, want %v", cfg.Level, slog.LevelDebug)
	}
	if !cfg.JSON {
		t.Error("expected JSON output")
	}

	cfg = FromEnv(func(string) string { return "" })
	if cfg.Level != slog.LevelInfo || cfg.JSON {
		t.Errorf("defaults: got level=%v json=%v", cfg.Level, cfg.JSON)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, JSON: true, Output: &buf})

	logger.Debug("hidden")
	logger.Info("expense recorded", "amount", 150)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if rec["msg"] != "expense recorded" {
		t.Errorf("msg: got %v", rec["msg"])
	}
	if rec["amount"] != float64(150) {
		t.Errorf("amount: got %v", rec["amount"])
	}
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelWarn, Output: &buf})

	logger.Info("hidden")
	logger.Warn("tick failed", "error", "boom")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered: %q", out)
	}
	if !strings.Contains(out, "msg=\"tick failed\"") || !strings.Contains(out, "error=boom") {
		t.Errorf("unexpected output: %q", out)
	}
}

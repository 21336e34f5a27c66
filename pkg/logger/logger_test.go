package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"meshbot/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.With("component", "delivery.pipeline").Info("Sent message", "target", "dm:Alice", "parts", 2)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry["level"] != "info" {
		t.Fatalf("level = %v, want %q", entry["level"], "info")
	}
	if entry["msg"] != "Sent message" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "Sent message")
	}
	if entry["component"] != "delivery.pipeline" {
		t.Fatalf("component = %v, want %q", entry["component"], "delivery.pipeline")
	}
	if entry["time"] == nil {
		t.Fatal("expected time")
	}
	if entry["target"] != "dm:Alice" {
		t.Fatalf("target = %v, want %q", entry["target"], "dm:Alice")
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Warn("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for warn, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	unsetLoggingEnv(t)
	t.Setenv("MESHBOT_LOG_LEVEL", "debug")
	t.Setenv("MESHBOT_LOG_FORMAT", "text")

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := NewWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("NewWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	unsetLoggingEnv(t)

	if _, err := NewWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := NewWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MESHBOT_LOG_LEVEL", "MESHBOT_LOG_FORMAT", "MESHBOT_LOG_ADD_SOURCE"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/hostguard/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		level, err := parseLevel(tt.input)
		if err != nil {
			t.Errorf("parseLevel(%q) returned error: %v", tt.input, err)
		}
		if level != tt.expected {
			t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
		}
	}

	for _, input := range []string{"invalid", "trace", "fatal", ""} {
		if _, err := parseLevel(input); err == nil {
			t.Errorf("parseLevel(%q) should return error, got nil", input)
		}
	}
}

func TestInitJSONAndLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(&buf, config.LogConfig{Level: "warn", Format: "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Info("info message")
	slog.Warn("blocked dns query", "domain", "ads.example.com")

	out := buf.String()
	if strings.Contains(out, "info message") {
		t.Error("Info message should be filtered out at warn level")
	}
	if !strings.Contains(out, `"msg":"blocked dns query"`) || !strings.Contains(out, `"domain":"ads.example.com"`) {
		t.Errorf("JSON output missing fields: %s", out)
	}
}

func TestInitText(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(&buf, config.LogConfig{Level: "info", Format: "text"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("engine started", "device", "tun0")
	if !strings.Contains(buf.String(), "device=tun0") {
		t.Errorf("Text output should contain device=tun0, got %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := initWith(&buf, config.LogConfig{Level: "info", Format: "json"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Debug("hidden")
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	slog.Debug("shown")

	if Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", Level())
	}
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output after SetLevel: %s", buf.String())
	}
	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel should reject unknown levels")
	}
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "hostguard.log")

	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled:  true,
				Path:     logPath,
				Rotation: config.RotationConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7},
			},
		},
	}
	if err := initWith(&bytes.Buffer{}, cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	slog.Info("test message", "key", "value")
	if err := Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "test message") {
		t.Errorf("Log file missing message: %s", data)
	}
}

func TestInitErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"level", config.LogConfig{Level: "loud", Format: "json"}},
		{"format", config.LogConfig{Level: "info", Format: "xml"}},
		{"file path", config.LogConfig{Level: "info", Format: "json",
			Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}}}},
	}
	for _, tt := range tests {
		if err := initWith(&bytes.Buffer{}, tt.cfg); err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}

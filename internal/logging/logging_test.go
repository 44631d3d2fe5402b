package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&buf, "info", FormatJSON)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Debug("hidden")
	logger.Info("installed", zap.String("cask", "adk-code"))
	_ = logger.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["msg"] != "installed" || entry["cask"] != "adk-code" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&buf, "DEBUG", FormatConsole)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Debug("resolving", zap.String("version", "latest"))
	_ = logger.Sync()

	if !strings.Contains(buf.String(), "resolving") {
		t.Errorf("output missing message: %q", buf.String())
	}
}

func TestNewLogger_Invalid(t *testing.T) {
	if _, err := NewLogger(&bytes.Buffer{}, "loud", FormatJSON); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

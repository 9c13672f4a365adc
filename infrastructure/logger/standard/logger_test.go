package standard

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewStandardLogger(t *testing.T) {
	logger := NewStandardLogger()

	if logger == nil || logger.entry == nil {
		t.Fatal("NewStandardLogger returned an uninitialized logger")
	}
}

func TestStandardLogger_LogMethods(t *testing.T) {
	logger := NewNopLogger()

	// Test that methods don't panic
	t.Run("Debug", func(t *testing.T) {
		logger.Debug("test debug", nil)
		logger.Debug("test debug with fields", map[string]interface{}{
			"key": "value",
			"num": 42,
		})
	})

	t.Run("Info", func(t *testing.T) {
		logger.Info("test info", nil)
	})

	t.Run("Warn", func(t *testing.T) {
		logger.Warn("test warn", map[string]interface{}{"error": "something wrong"})
	})

	t.Run("Error", func(t *testing.T) {
		logger.Error("test error", map[string]interface{}{"code": 500})
	})
}

func TestStandardLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", FormatJSON)

	logger.Info("feed fetched", map[string]interface{}{
		"url":   "https://example.com/feed.xml",
		"items": 42,
	})

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["msg"] != "feed fetched" {
		t.Errorf("msg = %v, want feed fetched", line["msg"])
	}
	if line["level"] != "info" {
		t.Errorf("level = %v, want info", line["level"])
	}
	if line["url"] != "https://example.com/feed.xml" {
		t.Errorf("url field = %v", line["url"])
	}
}

func TestStandardLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", FormatText)

	logger.Debug("hidden debug", nil)
	logger.Info("hidden info", nil)
	logger.Warn("visible warn", nil)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below warn should be filtered, got %q", out)
	}
	if !strings.Contains(out, "visible warn") {
		t.Errorf("warn message missing from %q", out)
	}
}

func TestStandardLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "verbose", FormatText)

	logger.Debug("hidden", nil)
	logger.Info("shown", nil)

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestStandardLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", FormatJSON).With(map[string]interface{}{
		"component": "persister",
	})

	logger.Info("flushed", nil)

	if !strings.Contains(buf.String(), `"component":"persister"`) {
		t.Errorf("child logger should carry its fields, got %q", buf.String())
	}
}

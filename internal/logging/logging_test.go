package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupWithWriterCopiesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	logger.Info().Str("stream_id", "s1").Msg("hello")
	logger.Debug().Msg("hidden")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["stream_id"] != "s1" || line["message"] != "hello" {
		t.Errorf("unexpected log line: %v", line)
	}
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %v", logger.GetLevel())
	}
}

func TestSetupDevelopmentIsDebug(t *testing.T) {
	if got := Setup("development").GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %v", got)
	}
}

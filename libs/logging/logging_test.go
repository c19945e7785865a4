package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info", "wallet-service", "test")
	logger.Debug("hidden")
	logger.Info("visible", "account_id", "abc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["service"] != "wallet-service" || line["env"] != "test" {
		t.Fatalf("missing service fields: %v", line)
	}
	if line["msg"] != "visible" {
		t.Fatalf("unexpected message %v", line["msg"])
	}
}

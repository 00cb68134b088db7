package observability

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerToWritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("session cleared", "reason", "restricted")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "session cleared" || entry["reason"] != "restricted" {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
}

package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWithFileWritesRotatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slam.log")
	log, err := NewWithOptions(Options{Mode: "production", Level: "debug", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.With("component", "test").Info("hello", "sla_id", "SLA-000001")
	log.Sync()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"sla_id":"SLA-000001"`) || !strings.Contains(string(data), `"component":"test"`) {
		t.Fatalf("unexpected log contents: %s", data)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := NewWithOptions(Options{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func payload() map[string]any {
	return map[string]any{
		"name": "Uptime", "type": "percentage", "teamId": "TEAM-001",
		"startDate": "2024-01-01", "endDate": "2024-12-31", "targetValue": 99.9,
	}
}

func TestOpenWithDefaults(t *testing.T) {
	a, err := Open(Options{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Config.IDs.Prefix != "SLA" {
		t.Fatalf("unexpected config: %+v", a.Config.IDs)
	}
	if a.Metrics == nil || a.Engine.Metrics == nil {
		t.Fatalf("metrics are enabled by default")
	}
	rec, err := a.Engine.Create(context.Background(), "tester", payload())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.SLAID != "SLA-000001" {
		t.Fatalf("id = %s", rec.SLAID)
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "ids:\n  prefix: OPS\n  width: 4\nmetrics:\n  enabled: true\n"
	if err := os.WriteFile(filepath.Join(dir, "slam.yml"), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := Open(Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Metrics == nil {
		t.Fatalf("metrics should be enabled")
	}
	rec, err := a.Engine.Create(context.Background(), "tester", payload())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.SLAID != "OPS-0001" {
		t.Fatalf("id = %s", rec.SLAID)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenWithMetricsDisabled(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "slam.yml"), []byte("metrics:\n  enabled: false\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := Open(Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Metrics != nil {
		t.Fatalf("metrics should be disabled")
	}
	if _, err := a.Engine.Create(context.Background(), "tester", payload()); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	if err := os.WriteFile(path, []byte("ids:\n  driver: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(Options{Workspace: dir, ConfigPath: path}); err == nil {
		t.Fatalf("expected invalid driver error")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.IDs.Prefix != "SLA" || cfg.IDs.Width != 6 {
		t.Fatalf("unexpected id defaults: %s/%d", cfg.IDs.Prefix, cfg.IDs.Width)
	}
	if cfg.Permissions.DefaultRole != "editor" {
		t.Fatalf("unexpected default role %q", cfg.Permissions.DefaultRole)
	}
}

func TestFromYAMLOverridesKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("ids:\n  prefix: OLA\nconcurrency:\n  require_row_version: true\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.IDs.Prefix != "OLA" {
		t.Fatalf("prefix not overridden: %s", cfg.IDs.Prefix)
	}
	if cfg.IDs.Width != 6 {
		t.Fatalf("width default lost: %d", cfg.IDs.Width)
	}
	if !cfg.Concurrency.RequireRowVersion {
		t.Fatalf("expected require_row_version")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"redis without addr": "ids:\n  driver: redis\n",
		"unknown driver":     "ids:\n  driver: etcd\n",
		"bad width":          "ids:\n  width: 0\n",
		"unknown permission": "permissions:\n  roles:\n    editor:\n      permissions: [sla.fly]\n",
		"unknown assignment": "permissions:\n  assignments:\n    alice: superuser\n",
		"bad base path":      "server:\n  base_path: v1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.IDs.Prefix != "SLA" {
		t.Fatalf("expected defaults")
	}
	if err := os.WriteFile(filepath.Join(dir, "slam.yml"), []byte("ids:\n  width: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IDs.Width != 4 {
		t.Fatalf("width = %d", cfg.IDs.Width)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

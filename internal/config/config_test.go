package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
interfaces = ["bat0", "wlan0"]
app-management = "deny"
log-level = "debug"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if len(cfg.Interfaces) != 2 || cfg.Interfaces[0] != "bat0" {
		t.Fatalf("got interfaces %v", cfg.Interfaces)
	}
	if cfg.AppManagement != AppManagementDeny {
		t.Fatalf("got app-management %v", cfg.AppManagement)
	}
	// Untouched keys keep their defaults.
	if cfg.RequestRetries != Default().RequestRetries {
		t.Fatalf("got request-retries %d, want default %d", cfg.RequestRetries, Default().RequestRetries)
	}
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	orig := SearchPaths
	defer func() { SearchPaths = orig }()
	SearchPaths = []string{filepath.Join(t.TempDir(), "does-not-exist.toml")}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.AppManagement != want.AppManagement || cfg.LogLevel != want.LogLevel ||
		cfg.RequestRetries != want.RequestRetries || len(cfg.Interfaces) != 0 {
		t.Fatalf("expected defaults when no config file present, got %+v", cfg)
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8682" {
		t.Fatalf("listen address = %q, want :8682", cfg.ListenAddress)
	}
	if cfg.EventWindow != 100 {
		t.Fatalf("event window = %d, want 100", cfg.EventWindow)
	}
	if cfg.AnalyticsDefaultDays != 30 {
		t.Fatalf("analytics days = %d, want 30", cfg.AnalyticsDefaultDays)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9000"
RegistryURL = "http://registry:8545"
RegistryAuthToken = "secret"
CachePath = "/var/lib/market/purchases.db"
EventWindow = 50
AnalyticsDefaultDays = 7
Environment = "prod"
LogLevel = "warn"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" || cfg.RegistryURL != "http://registry:8545" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.EventWindow != 50 || cfg.AnalyticsDefaultDays != 7 {
		t.Fatalf("unexpected windows: %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
ListenAddress = ":9000"
RegistryUrl = "http://registry:8545"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsOversizedEventWindow(t *testing.T) {
	path := writeConfig(t, `
EventWindow = 500
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for oversized event window")
	}
}

func TestValidateEmptyListenAddress(t *testing.T) {
	cfg := Default()
	cfg.ListenAddress = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

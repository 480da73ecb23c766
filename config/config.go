package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"datamarket/registry"
)

// Config is the market gateway's on-disk configuration.
type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	RegistryURL          string `toml:"RegistryURL"`
	RegistryAuthToken    string `toml:"RegistryAuthToken"`
	CachePath            string `toml:"CachePath"`
	EventWindow          uint64 `toml:"EventWindow"`
	AnalyticsDefaultDays int    `toml:"AnalyticsDefaultDays"`
	Environment          string `toml:"Environment"`
	LogLevel             string `toml:"LogLevel"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		ListenAddress:        ":8682",
		RegistryURL:          "http://127.0.0.1:8545",
		CachePath:            "./market-data/purchases.db",
		EventWindow:          registry.MaxEventWindow,
		AnalyticsDefaultDays: 30,
		Environment:          "dev",
		LogLevel:             "info",
	}
}

// Load reads the configuration at path. A missing file yields the
// defaults; unknown keys and out-of-range values are rejected so a
// typo cannot silently fall back to a default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, strings.Join(undecoded, "."))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants the gateway relies on at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress must not be empty")
	}
	if strings.TrimSpace(c.RegistryURL) == "" {
		return fmt.Errorf("RegistryURL must not be empty")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("CachePath must not be empty")
	}
	if c.EventWindow == 0 || c.EventWindow > registry.MaxEventWindow {
		return fmt.Errorf("EventWindow must be between 1 and %d blocks", registry.MaxEventWindow)
	}
	if c.AnalyticsDefaultDays <= 0 {
		return fmt.Errorf("AnalyticsDefaultDays must be positive")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"xsettle/crypto"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func validConfig() string {
	collector := crypto.EncodeAddress([20]byte{0x42})
	return fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
LedgerID = "ledger-east"
RPCAuthToken = "secret"
FeeBps = 25
MaxFeeBps = 500
FeeCollector = "%s"
DefaultEscrowDuration = 3600
`, collector)
}

func TestLoadParsesSettings(t *testing.T) {
	path := writeConfig(t, validConfig())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("RPCAddress = %q", cfg.RPCAddress)
	}
	if cfg.LedgerID != "ledger-east" {
		t.Fatalf("LedgerID = %q", cfg.LedgerID)
	}
	if cfg.RPCAuthToken != "secret" {
		t.Fatalf("RPCAuthToken = %q", cfg.RPCAuthToken)
	}
	if cfg.FeeBps != 25 || cfg.MaxFeeBps != 500 {
		t.Fatalf("fee settings = %d/%d", cfg.FeeBps, cfg.MaxFeeBps)
	}
	if cfg.DefaultEscrowDuration != 3600 {
		t.Fatalf("DefaultEscrowDuration = %d", cfg.DefaultEscrowDuration)
	}
	collector, err := cfg.FeeCollectorAddress()
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	if collector != ([20]byte{0x42}) {
		t.Fatalf("collector = %x", collector)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("default config not written: %v", statErr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.FeeBps != 25 || cfg.MaxFeeBps != 500 {
		t.Fatalf("default fees = %d/%d", cfg.FeeBps, cfg.MaxFeeBps)
	}
	if cfg.DefaultEscrowDuration != 86_400 {
		t.Fatalf("default duration = %d", cfg.DefaultEscrowDuration)
	}

	// Loading again reads the persisted file instead of recreating it.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.LedgerID != cfg.LedgerID {
		t.Fatalf("reload LedgerID = %q", again.LedgerID)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	collector := crypto.EncodeAddress([20]byte{0x42})
	base := func() *Config {
		return &Config{
			RPCAddress:            ":8645",
			LedgerID:              "ledger-east",
			FeeBps:                25,
			MaxFeeBps:             500,
			FeeCollector:          collector,
			DefaultEscrowDuration: 3600,
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"blank ledger id", func(c *Config) { c.LedgerID = "  " }},
		{"blank rpc address", func(c *Config) { c.RPCAddress = "" }},
		{"zero max fee", func(c *Config) { c.MaxFeeBps = 0 }},
		{"max fee above ceiling", func(c *Config) { c.MaxFeeBps = 501 }},
		{"fee above max", func(c *Config) { c.FeeBps = 600 }},
		{"bad collector", func(c *Config) { c.FeeCollector = "nhb1notours" }},
		{"zero duration", func(c *Config) { c.DefaultEscrowDuration = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `RPCAddress = ":8645"
LedgerID = ""
MaxFeeBps = 500
FeeBps = 25
DefaultEscrowDuration = 3600
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for blank ledger id")
	}
}

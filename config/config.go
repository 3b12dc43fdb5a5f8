package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"xsettle/crypto"
)

// hard ceiling on any configured fee rate, in basis points
const maxFeeBpsCeiling = 500

type Config struct {
	RPCAddress            string `toml:"RPCAddress"`
	DataDir               string `toml:"DataDir"`
	LedgerID              string `toml:"LedgerID"`
	RPCAuthToken          string `toml:"RPCAuthToken"`
	FeeBps                uint32 `toml:"FeeBps"`
	MaxFeeBps             uint32 `toml:"MaxFeeBps"`
	FeeCollector          string `toml:"FeeCollector"`
	DefaultEscrowDuration int64  `toml:"DefaultEscrowDuration"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine would reject.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LedgerID) == "" {
		return fmt.Errorf("LedgerID must not be empty")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must not be empty")
	}
	if c.MaxFeeBps == 0 || c.MaxFeeBps > maxFeeBpsCeiling {
		return fmt.Errorf("MaxFeeBps must be between 1 and %d", maxFeeBpsCeiling)
	}
	if c.FeeBps > c.MaxFeeBps {
		return fmt.Errorf("FeeBps %d exceeds MaxFeeBps %d", c.FeeBps, c.MaxFeeBps)
	}
	if _, err := c.FeeCollectorAddress(); err != nil {
		return fmt.Errorf("FeeCollector: %w", err)
	}
	if c.DefaultEscrowDuration <= 0 {
		return fmt.Errorf("DefaultEscrowDuration must be positive")
	}
	return nil
}

// FeeCollectorAddress decodes the configured fee collector address.
func (c *Config) FeeCollectorAddress() ([20]byte, error) {
	return crypto.DecodeAddress(strings.TrimSpace(c.FeeCollector))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:            ":8645",
		DataDir:               "./xsettle-data",
		LedgerID:              "xsettle-local",
		FeeBps:                25,
		MaxFeeBps:             maxFeeBpsCeiling,
		FeeCollector:          crypto.EncodeAddress([20]byte{}),
		DefaultEscrowDuration: 86_400,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

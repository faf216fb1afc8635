package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config carries the protocol parameters of the position engine.
type Config struct {
	// FeeBps is skimmed from every deposit. Zero disables the skim.
	FeeBps uint32 `toml:"FeeBps"`
	// CollateralRatioPct is the collateralisation ratio, 150 meaning 150%.
	CollateralRatioPct    uint32 `toml:"CollateralRatioPct"`
	UpdateIntervalSeconds uint64 `toml:"UpdateIntervalSeconds"`
	// OracleMaxAgeSeconds rejects quotes older than this. Zero disables the check.
	OracleMaxAgeSeconds uint64 `toml:"OracleMaxAgeSeconds"`
	Wiring              Wiring `toml:"wiring"`
	Pauses              Pauses `toml:"pauses"`
}

const (
	DefaultFeeBps                = 3
	DefaultCollateralRatioPct    = 150
	DefaultUpdateIntervalSeconds = 86_400
	DefaultOracleMaxAgeSeconds   = 3_600
)

// Default returns the parameters used when no file exists.
func Default() *Config {
	return &Config{
		FeeBps:                DefaultFeeBps,
		CollateralRatioPct:    DefaultCollateralRatioPct,
		UpdateIntervalSeconds: DefaultUpdateIntervalSeconds,
		OracleMaxAgeSeconds:   DefaultOracleMaxAgeSeconds,
	}
}

// Load loads the configuration from the given path, writing defaults when
// the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := ValidateConfig(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Wiring.Asset = strings.TrimSpace(c.Wiring.Asset)
	c.Wiring.Vault = strings.TrimSpace(c.Wiring.Vault)
	c.Wiring.FeeSink = strings.TrimSpace(c.Wiring.FeeSink)
	c.Wiring.Market = strings.TrimSpace(c.Wiring.Market)
}

// Address parses one of the wiring entries. Empty entries resolve to the zero
// address.
func (c *Config) Address(raw string) common.Address {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	if err := ValidateConfig(*cfg); err != nil {
		return err
	}
	return persist(path, cfg)
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

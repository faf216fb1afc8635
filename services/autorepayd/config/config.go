package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

const (
	LedgerMemory  = "memory"
	LedgerLevelDB = "leveldb"
	LedgerBolt    = "bolt"

	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"

	OracleStatic = "static"
	OracleEVM    = "evm"

	MarketPaper = "paper"

	redacted = "***"
)

// Config captures the runtime settings for the autorepay daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	ParamsPath    string          `yaml:"params"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Ledger        LedgerConfig    `yaml:"ledger"`
	Journal       JournalConfig   `yaml:"journal"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Market        MarketConfig    `yaml:"market"`
	Keeper        KeeperConfig    `yaml:"keeper"`
	Webhook       WebhookConfig   `yaml:"webhook"`
	Export        ExportConfig    `yaml:"export"`
	Log           LogConfig       `yaml:"log"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the authenticators accepted by the API.
type AuthConfig struct {
	APITokens []string  `yaml:"api_tokens"`
	JWT       JWTConfig `yaml:"jwt"`
}

// JWTConfig enables HS256 bearer tokens carrying scopes.
type JWTConfig struct {
	Enabled    bool     `yaml:"enabled"`
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ScopeClaim string   `yaml:"scope_claim"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LedgerConfig selects the position store.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// JournalConfig selects the audit journal database.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// OracleConfig selects the price source. Static prices are integers scaled
// by Decimals.
type OracleConfig struct {
	Source     string   `yaml:"source"`
	Price      string   `yaml:"price"`
	Decimals   uint8    `yaml:"decimals"`
	RPCURL     string   `yaml:"rpc_url"`
	Aggregator string   `yaml:"aggregator"`
	MaxAge     Duration `yaml:"max_age"`
}

// MarketConfig selects the yield market.
type MarketConfig struct {
	Kind   string `yaml:"kind"`
	APRBps uint32 `yaml:"apr_bps"`
	// Grants mints paper balances at startup, keyed by hex account.
	Grants map[string]string `yaml:"grants"`
}

// KeeperConfig drives the sweep and fee flush loop.
type KeeperConfig struct {
	Interval Duration `yaml:"interval"`
	Disabled bool     `yaml:"disabled"`
}

// WebhookConfig configures outbound event notifications.
type WebhookConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Secret   string   `yaml:"secret"`
	Topics   []string `yaml:"topics"`
}

// ExportConfig configures the positions snapshot export.
type ExportConfig struct {
	Dir      string   `yaml:"dir"`
	Interval Duration `yaml:"interval"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	if cfg.ParamsPath == "" {
		cfg.ParamsPath = "autorepay.toml"
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)

	tokens := make([]string, 0, len(cfg.Auth.APITokens))
	for _, token := range cfg.Auth.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.Auth.APITokens = tokens
	cfg.Auth.JWT.HMACSecret = strings.TrimSpace(cfg.Auth.JWT.HMACSecret)
	if cfg.Auth.JWT.ScopeClaim == "" {
		cfg.Auth.JWT.ScopeClaim = "scope"
	}
	if cfg.Auth.JWT.ClockSkew.Duration <= 0 {
		cfg.Auth.JWT.ClockSkew.Duration = 2 * time.Minute
	}

	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 20
	}

	cfg.Ledger.Backend = lower(cfg.Ledger.Backend, LedgerMemory)
	cfg.Ledger.Path = strings.TrimSpace(cfg.Ledger.Path)
	cfg.Journal.Driver = lower(cfg.Journal.Driver, JournalSQLite)
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.Journal.DSN == "" && cfg.Journal.Driver == JournalSQLite {
		cfg.Journal.DSN = "autorepay-journal.db"
	}

	cfg.Oracle.Source = lower(cfg.Oracle.Source, OracleStatic)
	cfg.Oracle.Price = strings.TrimSpace(cfg.Oracle.Price)
	cfg.Oracle.RPCURL = strings.TrimSpace(cfg.Oracle.RPCURL)
	cfg.Oracle.Aggregator = strings.TrimSpace(cfg.Oracle.Aggregator)
	if cfg.Oracle.Source == OracleStatic && cfg.Oracle.Decimals == 0 && cfg.Oracle.Price == "" {
		cfg.Oracle.Price = "200000000000"
		cfg.Oracle.Decimals = 8
	}

	cfg.Market.Kind = lower(cfg.Market.Kind, MarketPaper)

	if cfg.Keeper.Interval.Duration <= 0 {
		cfg.Keeper.Interval.Duration = time.Minute
	}
	cfg.Webhook.Endpoint = strings.TrimSpace(cfg.Webhook.Endpoint)
	cfg.Export.Dir = strings.TrimSpace(cfg.Export.Dir)
	if cfg.Export.Interval.Duration <= 0 {
		cfg.Export.Interval.Duration = 24 * time.Hour
	}
	cfg.Log.Level = strings.TrimSpace(cfg.Log.Level)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !cfg.TLS.AllowInsecure && !hasCert {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if len(cfg.Auth.APITokens) == 0 && !cfg.Auth.JWT.Enabled {
		return fmt.Errorf("auth: at least one api token or jwt must be configured")
	}
	if cfg.Auth.JWT.Enabled && cfg.Auth.JWT.HMACSecret == "" {
		return fmt.Errorf("auth: jwt.hmac_secret required when jwt is enabled")
	}
	switch cfg.Ledger.Backend {
	case LedgerMemory:
	case LedgerLevelDB, LedgerBolt:
		if cfg.Ledger.Path == "" {
			return fmt.Errorf("ledger: path required for %s backend", cfg.Ledger.Backend)
		}
	default:
		return fmt.Errorf("ledger: unsupported backend %q", cfg.Ledger.Backend)
	}
	switch cfg.Journal.Driver {
	case JournalSQLite:
	case JournalPostgres:
		if cfg.Journal.DSN == "" {
			return fmt.Errorf("journal: dsn required for postgres")
		}
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	switch cfg.Oracle.Source {
	case OracleStatic:
		if cfg.Oracle.Price == "" {
			return fmt.Errorf("oracle: static price required")
		}
	case OracleEVM:
		if cfg.Oracle.RPCURL == "" {
			return fmt.Errorf("oracle: rpc_url required for evm source")
		}
		if !common.IsHexAddress(cfg.Oracle.Aggregator) {
			return fmt.Errorf("oracle: aggregator must be a hex address")
		}
	default:
		return fmt.Errorf("oracle: unsupported source %q", cfg.Oracle.Source)
	}
	if cfg.Market.Kind != MarketPaper {
		return fmt.Errorf("market: unsupported kind %q", cfg.Market.Kind)
	}
	for account, amount := range cfg.Market.Grants {
		if !common.IsHexAddress(account) {
			return fmt.Errorf("market: grant account %q is not a hex address", account)
		}
		if value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10); !ok || value.Sign() <= 0 {
			return fmt.Errorf("market: grant for %s must be a positive integer", account)
		}
	}
	if (cfg.Webhook.Endpoint == "") != (cfg.Webhook.Secret == "") {
		return fmt.Errorf("webhook: endpoint and secret must be set together")
	}
	return nil
}

// CheckEnvironment rejects combinations that only make sense in env "dev".
// The paper market keeps its balances in memory, so a persistent ledger
// paired with it would reload positions against an empty pool after a
// restart.
func (cfg Config) CheckEnvironment(env string) error {
	if strings.EqualFold(strings.TrimSpace(env), "dev") {
		return nil
	}
	if cfg.Market.Kind == MarketPaper && cfg.Ledger.Backend != LedgerMemory {
		return fmt.Errorf("ledger: %s backend with the paper market is restricted to the dev environment", cfg.Ledger.Backend)
	}
	return nil
}

// Sanitized returns a copy safe for logging.
func (cfg Config) Sanitized() Config {
	out := cfg
	if len(cfg.Auth.APITokens) > 0 {
		out.Auth.APITokens = make([]string, len(cfg.Auth.APITokens))
		for i := range out.Auth.APITokens {
			out.Auth.APITokens[i] = redacted
		}
	}
	if out.Auth.JWT.HMACSecret != "" {
		out.Auth.JWT.HMACSecret = redacted
	}
	if out.Webhook.Secret != "" {
		out.Webhook.Secret = redacted
	}
	if out.Journal.Driver == JournalPostgres && out.Journal.DSN != "" {
		out.Journal.DSN = redacted
	}
	return out
}

func lower(raw, fallback string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zapspay/crypto"
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
		return fmt.Errorf("duration must be a string")
	}
	raw := value.Value
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

// Config captures runtime configuration for the relay daemon.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	ListenAddr  string            `yaml:"listen"`
	DatabaseDSN string            `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Network     NetworkConfig     `yaml:"network"`
	Sponsorship SponsorshipConfig `yaml:"sponsorship"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Jobs        JobsConfig        `yaml:"jobs"`
	Reports     ReportsConfig     `yaml:"reports"`
	Log         LogConfig         `yaml:"log"`
}

// ServiceConfig names the process for logs and telemetry.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// RedisConfig locates the job queue backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NetworkConfig identifies the ledger network and its RPC endpoint.
type NetworkConfig struct {
	Passphrase   string `yaml:"passphrase"`
	RPCURL       string `yaml:"rpc_url"`
	RPCAuthToken string `yaml:"rpc_auth_token"`
}

// SponsorshipConfig tunes building, sponsoring, and submission. FeePayerSeed
// is a key-source spec (env:NAME, file:PATH, prompt, or a literal S...
// seed); the raw secret never appears in this struct after resolution.
type SponsorshipConfig struct {
	FeePayerSeed    string   `yaml:"fee_payer_seed"`
	Registry        string   `yaml:"registry_contract"`
	BaseFee         uint64   `yaml:"base_fee"`
	ValidityWindow  Duration `yaml:"validity_window"`
	SubmitInterval  Duration `yaml:"submit_poll_interval"`
	FinalityTimeout Duration `yaml:"finality_timeout"`
}

// IndexerConfig tunes the settlement event watcher.
type IndexerConfig struct {
	Contracts    []string `yaml:"contracts"`
	PollInterval Duration `yaml:"poll_interval"`
	ErrorBackoff Duration `yaml:"error_backoff"`
	BatchSize    int      `yaml:"batch_size"`
	StartLedger  uint64   `yaml:"start_ledger"`
}

// GatewayConfig tunes the public API surface.
type GatewayConfig struct {
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig configures bearer-token authentication. Secret is a
// key-source spec like SponsorshipConfig.FeePayerSeed.
type AuthConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Secret        string   `yaml:"secret"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	OptionalPaths []string `yaml:"optional_paths"`
}

// RateLimitConfig throttles API clients.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// JobsConfig tunes the background worker pool.
type JobsConfig struct {
	Workers           int      `yaml:"workers"`
	MaxRetries        int      `yaml:"max_retries"`
	VisibilityTimeout Duration `yaml:"visibility_timeout"`
	RetryBackoffBase  Duration `yaml:"retry_backoff_base"`
	PollInterval      Duration `yaml:"poll_interval"`
}

// ReportsConfig schedules the daily settlement report.
type ReportsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	OutputDir     string   `yaml:"output_dir"`
	RunHour       int      `yaml:"run_hour"`
	RunMinute     int      `yaml:"run_minute"`
	Timezone      string   `yaml:"timezone"`
	ProcessingSLA Duration `yaml:"processing_sla"`
	DryRun        bool     `yaml:"dry_run"`
}

// LogConfig enables rotating file output in addition to stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "zapsd"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = "zapspay.db"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Sponsorship.BaseFee == 0 {
		c.Sponsorship.BaseFee = 100
	}
	if c.Sponsorship.ValidityWindow.Duration <= 0 {
		c.Sponsorship.ValidityWindow.Duration = 300 * time.Second
	}
	if c.Sponsorship.SubmitInterval.Duration <= 0 {
		c.Sponsorship.SubmitInterval.Duration = 2 * time.Second
	}
	if c.Sponsorship.FinalityTimeout.Duration <= 0 {
		c.Sponsorship.FinalityTimeout.Duration = 60 * time.Second
	}
	if c.Indexer.PollInterval.Duration <= 0 {
		c.Indexer.PollInterval.Duration = 5 * time.Second
	}
	if c.Indexer.ErrorBackoff.Duration <= 0 {
		c.Indexer.ErrorBackoff.Duration = 30 * time.Second
	}
	if c.Indexer.BatchSize <= 0 {
		c.Indexer.BatchSize = 100
	}
	if c.Gateway.RateLimit.RequestsPerMinute <= 0 {
		c.Gateway.RateLimit.RequestsPerMinute = 120
	}
	if c.Gateway.RateLimit.Burst <= 0 {
		c.Gateway.RateLimit.Burst = 10
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.MaxRetries <= 0 {
		c.Jobs.MaxRetries = 3
	}
	if c.Jobs.VisibilityTimeout.Duration <= 0 {
		c.Jobs.VisibilityTimeout.Duration = 300 * time.Second
	}
	if c.Jobs.RetryBackoffBase.Duration <= 0 {
		c.Jobs.RetryBackoffBase.Duration = 30 * time.Second
	}
	if c.Jobs.PollInterval.Duration <= 0 {
		c.Jobs.PollInterval.Duration = time.Second
	}
	if c.Reports.OutputDir == "" {
		c.Reports.OutputDir = "reports"
	}
	if c.Reports.Timezone == "" {
		c.Reports.Timezone = "UTC"
	}
	if c.Reports.ProcessingSLA.Duration <= 0 {
		c.Reports.ProcessingSLA.Duration = time.Hour
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Network.Passphrase) == "" {
		return fmt.Errorf("network.passphrase is required")
	}
	if strings.TrimSpace(c.Network.RPCURL) == "" {
		return fmt.Errorf("network.rpc_url is required")
	}
	if strings.TrimSpace(c.Sponsorship.FeePayerSeed) == "" {
		return fmt.Errorf("sponsorship.fee_payer_seed is required")
	}
	if registry := strings.TrimSpace(c.Sponsorship.Registry); registry != "" {
		if _, err := crypto.ParseContractID(registry); err != nil {
			return fmt.Errorf("sponsorship.registry_contract: %w", err)
		}
	}
	for _, contract := range c.Indexer.Contracts {
		if _, err := crypto.ParseContractID(strings.TrimSpace(contract)); err != nil {
			return fmt.Errorf("indexer.contracts entry %q: %w", contract, err)
		}
	}
	if c.Gateway.Auth.Enabled && strings.TrimSpace(c.Gateway.Auth.Secret) == "" {
		return fmt.Errorf("gateway.auth.secret is required when auth is enabled")
	}
	if c.Reports.RunHour < 0 || c.Reports.RunHour > 23 {
		return fmt.Errorf("reports.run_hour must be within 0..23")
	}
	if c.Reports.RunMinute < 0 || c.Reports.RunMinute > 59 {
		return fmt.Errorf("reports.run_minute must be within 0..59")
	}
	if _, err := time.LoadLocation(c.Reports.Timezone); err != nil {
		return fmt.Errorf("reports.timezone: %w", err)
	}
	return nil
}

// Location resolves the report timezone. Validate guarantees it parses.
func (r ReportsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

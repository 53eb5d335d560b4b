// Package main provides the BrokerWatch server CLI.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	History       HistoryConfig       `yaml:"history"`
	Redis         RedisConfig         `yaml:"redis"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Alerting      AlertingConfig      `yaml:"alerting"`
	SMTP          SMTPConfig          `yaml:"smtp"`
	Discord       DiscordConfig       `yaml:"discord"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Brokers       []BrokerConfig      `yaml:"brokers"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	HTTPAddress    string        `yaml:"http_address"`    // API listen address (default: :8080)
	MetricsAddress string        `yaml:"metrics_address"` // Prometheus listen address (default: :9090)
	RateLimitPerIP int           `yaml:"rate_limit_per_ip"`
	PassTimeout    string        `yaml:"pass_timeout"` // bound for API-triggered passes (default: 30s)
	HTTPTLS        HTTPTLSConfig `yaml:"http_tls"`
}

// HTTPTLSConfig contains HTTPS settings for the API listener.
type HTTPTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // default: ./data/brokerwatch.db
	// MasterKey seals webhook and chat targets at rest. Falls back to
	// BROKERWATCH_MASTER_KEY; empty stores them in plaintext.
	MasterKey string `yaml:"master_key"`
}

// HistoryConfig selects where resolved alerts are archived.
type HistoryConfig struct {
	Backend    string           `yaml:"backend"` // sqlite (default) or clickhouse
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ClickHouseConfig contains ClickHouse archive settings.
type ClickHouseConfig struct {
	Addresses     []string `yaml:"addresses"`
	Database      string   `yaml:"database"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	RetentionDays int      `yaml:"retention_days"`
	Compression   bool     `yaml:"compression"`
}

// RedisConfig enables the threshold cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"` // default: 5m
}

// ThresholdsConfig points at the thresholds file.
type ThresholdsConfig struct {
	File  string `yaml:"file"`  // empty means built-in defaults
	Watch bool   `yaml:"watch"` // reload on change
}

// AlertingConfig contains lifecycle settings.
type AlertingConfig struct {
	Cooldown     string `yaml:"cooldown"`      // default: 168h
	PollInterval string `yaml:"poll_interval"` // default: 1m
}

// SMTPConfig contains outgoing mail settings. Email is disabled when Host
// is empty.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// DiscordConfig contains the bot token used for Discord chat targets.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// NotificationsConfig contains delivery settings.
type NotificationsConfig struct {
	Timeout   string          `yaml:"timeout"` // HTTP timeout for webhook and chat delivery (default: 30s)
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds dispatches per tenant.
type RateLimitConfig struct {
	Enabled      *bool  `yaml:"enabled"` // default: true
	MaxPerWindow int    `yaml:"max_per_window"`
	Window       string `yaml:"window"`
	Burst        int    `yaml:"burst"`
}

// BrokerConfig is one monitored RabbitMQ server.
type BrokerConfig struct {
	ID           string `yaml:"id"`
	TenantID     string `yaml:"tenant_id"`
	URL          string `yaml:"url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	VHost        string `yaml:"vhost"`         // empty means every vhost
	Timeout      string `yaml:"timeout"`       // per-request timeout (default: 10s)
	PollInterval string `yaml:"poll_interval"` // overrides alerting.poll_interval
}

// LoadConfig loads configuration from a YAML file. A .env file in the
// working directory is loaded first and ${VAR} references are expanded.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data, expanding environment references.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Server.PassTimeout == "" {
		c.Server.PassTimeout = "30s"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/brokerwatch.db"
	}
	if c.Database.MasterKey == "" {
		c.Database.MasterKey = os.Getenv("BROKERWATCH_MASTER_KEY")
	}
	if c.History.Backend == "" {
		c.History.Backend = "sqlite"
	}
	if c.History.ClickHouse.Database == "" {
		c.History.ClickHouse.Database = "brokerwatch"
	}
	if c.History.ClickHouse.RetentionDays == 0 {
		c.History.ClickHouse.RetentionDays = 365
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "localhost:6379"
	}
	if c.Redis.TTL == "" {
		c.Redis.TTL = "5m"
	}
	if c.Alerting.Cooldown == "" {
		c.Alerting.Cooldown = "168h"
	}
	if c.Alerting.PollInterval == "" {
		c.Alerting.PollInterval = "1m"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Notifications.Timeout == "" {
		c.Notifications.Timeout = "30s"
	}
	if c.Notifications.RateLimit.Enabled == nil {
		enabled := true
		c.Notifications.RateLimit.Enabled = &enabled
	}
	if c.Notifications.RateLimit.MaxPerWindow == 0 {
		c.Notifications.RateLimit.MaxPerWindow = 10
	}
	if c.Notifications.RateLimit.Window == "" {
		c.Notifications.RateLimit.Window = "1m"
	}
	for i := range c.Brokers {
		if c.Brokers[i].Timeout == "" {
			c.Brokers[i].Timeout = "10s"
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	durations := map[string]string{
		"server.pass_timeout":             c.Server.PassTimeout,
		"redis.ttl":                       c.Redis.TTL,
		"alerting.cooldown":               c.Alerting.Cooldown,
		"alerting.poll_interval":          c.Alerting.PollInterval,
		"notifications.timeout":           c.Notifications.Timeout,
		"notifications.rate_limit.window": c.Notifications.RateLimit.Window,
	}
	for field, value := range durations {
		if _, err := parsePositiveDuration(field, value); err != nil {
			return err
		}
	}

	if c.Server.HTTPTLS.Enabled {
		if c.Server.HTTPTLS.CertFile == "" {
			return fmt.Errorf("server.http_tls.cert_file is required when HTTPS is enabled")
		}
		if c.Server.HTTPTLS.KeyFile == "" {
			return fmt.Errorf("server.http_tls.key_file is required when HTTPS is enabled")
		}
	}

	switch c.History.Backend {
	case "sqlite":
	case "clickhouse":
		if len(c.History.ClickHouse.Addresses) == 0 {
			return fmt.Errorf("history.clickhouse.addresses is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("history.backend must be sqlite or clickhouse, got %q", c.History.Backend)
	}

	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp.from is required when smtp.host is set")
	}

	seen := make(map[string]bool, len(c.Brokers))
	for i, b := range c.Brokers {
		prefix := fmt.Sprintf("brokers[%d]", i)
		if b.ID == "" {
			return fmt.Errorf("%s.id is required", prefix)
		}
		if seen[b.ID] {
			return fmt.Errorf("%s.id %q is duplicated", prefix, b.ID)
		}
		seen[b.ID] = true
		if b.TenantID == "" {
			return fmt.Errorf("%s.tenant_id is required", prefix)
		}
		if b.URL == "" {
			return fmt.Errorf("%s.url is required", prefix)
		}
		if _, err := parsePositiveDuration(prefix+".timeout", b.Timeout); err != nil {
			return err
		}
		if b.PollInterval != "" {
			if _, err := parsePositiveDuration(prefix+".poll_interval", b.PollInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

// Broker returns the broker with the given id.
func (c *Config) Broker(id string) (BrokerConfig, bool) {
	for _, b := range c.Brokers {
		if b.ID == id {
			return b, true
		}
	}
	return BrokerConfig{}, false
}

// RateLimitEnabled reports whether per-tenant dispatch limiting is on.
func (c *Config) RateLimitEnabled() bool {
	return c.Notifications.RateLimit.Enabled == nil || *c.Notifications.RateLimit.Enabled
}

// duration parses a field already checked by Validate.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

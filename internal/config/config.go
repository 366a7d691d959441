package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the mirrord service.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Broker    Broker          `yaml:"broker"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Auth      Auth            `yaml:"auth"`
	Telegram  Telegram        `yaml:"telegram"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   Logging         `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Broker selects and configures the outbound broker client.
// Kind is one of "simulator", "tradelocker", "alpaca". The simulator makes
// no network calls and is the safe default.
type Broker struct {
	Kind           string `yaml:"kind"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Alpaca holds the Alpaca endpoint used when broker.kind is "alpaca".
// Per-account credentials come from the account store; these are fallbacks
// for accounts without an API secret of their own.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
}

// Auth holds the shared bearer token protecting the HTTP API.
type Auth struct {
	Token string `yaml:"token"`
}

// Telegram configures the outbound notification sink. Leaving either field
// empty disables notifications.
type Telegram struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// DispatchConfig bounds the dispatcher's fan-out across followers.
type DispatchConfig struct {
	MaxInflight     int `yaml:"max_inflight"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// ReconcileConfig controls the background reconciliation loop.
// AlertAfterPollFailures emits a notification once a row has failed that
// many consecutive status polls; 0 disables the alert.
type ReconcileConfig struct {
	IntervalSeconds        int `yaml:"interval_seconds"`
	TickTimeoutSeconds     int `yaml:"tick_timeout_seconds"`
	MaxInflight            int `yaml:"max_inflight"`
	AlertAfterPollFailures int `yaml:"alert_after_poll_failures"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Interval returns the reconciliation interval as a duration, defaulting to
// 10 seconds when unset.
func (r ReconcileConfig) Interval() time.Duration {
	if r.IntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.IntervalSeconds) * time.Second
}

// TickTimeout returns the per-tick deadline, defaulting to the interval.
func (r ReconcileConfig) TickTimeout() time.Duration {
	if r.TickTimeoutSeconds <= 0 {
		return r.Interval()
	}
	return time.Duration(r.TickTimeoutSeconds) * time.Second
}

// Timeout returns the per-call broker timeout, defaulting to 10 seconds.
func (b Broker) Timeout() time.Duration {
	if b.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects configurations the engine cannot run with.
func validate(cfg *Config) error {
	switch cfg.Broker.Kind {
	case "", "simulator", "tradelocker", "alpaca":
	default:
		return fmt.Errorf("config: unknown broker kind %q", cfg.Broker.Kind)
	}
	if cfg.Broker.Kind == "tradelocker" && cfg.Broker.BaseURL == "" {
		return fmt.Errorf("config: broker.base_url required for tradelocker")
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("TRADELOCKER_REST"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("MIRROR_DRY_RUN"); v != "" {
		if dry, err := strconv.ParseBool(v); err == nil && dry {
			cfg.Broker.Kind = "simulator"
		}
	}

	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

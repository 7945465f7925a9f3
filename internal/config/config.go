// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBBOT_* environment variables.
type Config struct {
	Mode      string          `toml:"mode"`
	Simulate  bool            `toml:"simulate"`
	Log       LogConfig       `toml:"log"`
	Engine    EngineConfig    `toml:"engine"`
	Venues    []VenueConfig   `toml:"venues"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Rebalance RebalanceConfig `toml:"rebalance"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
}

// LogConfig selects the slog level.
type LogConfig struct {
	Level string `toml:"level"`
}

// EngineConfig holds the driver cadence and tracked universe.
type EngineConfig struct {
	Quote        string   `toml:"quote"`
	Assets       []string `toml:"assets"`
	TickInterval duration `toml:"tick_interval"`
	BookDepth    int      `toml:"book_depth"`
	VenueTimeout duration `toml:"venue_timeout"`
	// BalanceTTL bounds how long a venue's cached balances are reused.
	BalanceTTL duration `toml:"balance_ttl"`
	LockTTL    duration `toml:"lock_ttl"`
}

// VenueConfig describes one trading venue connection.
type VenueConfig struct {
	Name      string   `toml:"name"`
	Kind      string   `toml:"kind"`
	BaseURL   string   `toml:"base_url"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	FeeRate   float64  `toml:"fee_rate"`
	Assets    []string `toml:"assets"`
}

// StrategyConfig holds the arbitrage sizing and gating thresholds.
type StrategyConfig struct {
	MinMargin            float64  `toml:"min_margin"`
	BookMaxAge           duration `toml:"book_max_age"`
	MinNotional          float64  `toml:"min_notional"`
	BalanceSafety        float64  `toml:"balance_safety"`
	Convergence          float64  `toml:"convergence"`
	SpreadScan           float64  `toml:"spread_scan"`
	VolumeMismatchAlert  float64  `toml:"volume_mismatch_alert"`
	SettleDelay          duration `toml:"settle_delay"`
	SimulateRepeatVolume float64  `toml:"simulate_repeat_volume"`
	SimulateRepeatTTL    duration `toml:"simulate_repeat_ttl"`
}

// RebalanceConfig holds rebalance triggers and retry policy.
type RebalanceConfig struct {
	Enabled            bool     `toml:"enabled"`
	ImbalanceThreshold float64  `toml:"imbalance_threshold"`
	FillThreshold      float64  `toml:"fill_threshold"`
	MaxAttempts        int      `toml:"max_attempts"`
	Backoff            duration `toml:"backoff"`
	MaxBackoff         duration `toml:"max_backoff"`
	SettleDelay        duration `toml:"settle_delay"`
	Interval           duration `toml:"interval"`
	PriceChange        float64  `toml:"price_change"`
	LopsidedFactor     float64  `toml:"lopsided_factor"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials and event filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ServerConfig controls the read-only status API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// ShutdownTimeout bounds in-flight requests after the context is done.
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values the engine was tuned
// with. Load decodes the TOML file on top of these.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		Simulate: false,
		Log:      LogConfig{Level: "info"},
		Engine: EngineConfig{
			Quote:        "USDT",
			TickInterval: duration{2 * time.Second},
			BookDepth:    10,
			VenueTimeout: duration{5 * time.Second},
			BalanceTTL:   duration{30 * time.Second},
			LockTTL:      duration{2 * time.Minute},
		},
		Strategy: StrategyConfig{
			MinMargin:            0.005,
			BookMaxAge:           duration{4 * time.Second},
			MinNotional:          11,
			BalanceSafety:        0.99,
			Convergence:          0.999,
			SpreadScan:           0.005,
			VolumeMismatchAlert:  0.1,
			SettleDelay:          duration{2 * time.Second},
			SimulateRepeatVolume: 25,
			SimulateRepeatTTL:    duration{10 * time.Minute},
		},
		Rebalance: RebalanceConfig{
			Enabled:            true,
			ImbalanceThreshold: 0.1,
			FillThreshold:      0.4,
			MaxAttempts:        5,
			Backoff:            duration{2 * time.Second},
			MaxBackoff:         duration{30 * time.Second},
			SettleDelay:        duration{time.Second},
			Interval:           duration{4 * time.Hour},
			PriceChange:        0.05,
			LopsidedFactor:     3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbbot",
			User:          "arbbot",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "ledger",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"arbitrage", "rebalance", "reconcile", "alert"},
		},
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: duration{10 * time.Second},
		},
	}
}

var validModes = map[string]bool{
	"trade":     true,
	"simulate":  true,
	"reconcile": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"binance": true,
}

// Simulation reports whether orders must not be sent to venues.
func (c *Config) Simulation() bool {
	return c.Simulate || strings.ToLower(c.Mode) == "simulate"
}

// MaxLockHold is the longest a trade can hold its pool lock when every venue
// call runs to venue_timeout. An arbitrage creates, settles, queries and
// refreshes balances; a rebalance also cancels between query and refresh.
func (c *Config) MaxLockHold() time.Duration {
	vt := c.Engine.VenueTimeout.Duration
	arb := c.Strategy.SettleDelay.Duration + 3*vt
	reb := c.Rebalance.SettleDelay.Duration + 4*vt
	return max(arb, reb)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, simulate, reconcile)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log.level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	// Engine
	if strings.TrimSpace(c.Engine.Quote) == "" {
		errs = append(errs, "engine: quote must not be empty")
	}
	if len(c.Engine.Assets) == 0 {
		errs = append(errs, "engine: at least one asset must be tracked")
	}
	for _, a := range c.Engine.Assets {
		if strings.EqualFold(a, c.Engine.Quote) {
			errs = append(errs, fmt.Sprintf("engine: asset %q equals the quote asset", a))
		}
	}
	if c.Engine.TickInterval.Duration <= 0 {
		errs = append(errs, "engine: tick_interval must be > 0")
	}
	if c.Engine.BookDepth < 1 {
		errs = append(errs, "engine: book_depth must be >= 1")
	}
	if c.Engine.VenueTimeout.Duration <= 0 {
		errs = append(errs, "engine: venue_timeout must be > 0")
	}

	if hold := c.MaxLockHold(); c.Engine.LockTTL.Duration <= hold {
		errs = append(errs, fmt.Sprintf("engine: lock_ttl %s must exceed the longest execution hold %s", c.Engine.LockTTL.Duration, hold))
	}

	// Venues
	if len(c.Venues) < 2 {
		errs = append(errs, "venues: at least two venues are required for cross-venue arbitrage")
	}
	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
		} else if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("venues[%d]: duplicate name %q", i, v.Name))
		}
		seen[v.Name] = true
		if !validVenueKinds[strings.ToLower(v.Kind)] {
			errs = append(errs, fmt.Sprintf("venues[%d]: unknown kind %q (valid: binance)", i, v.Kind))
		}
		if v.FeeRate < 0 || v.FeeRate >= 1 {
			errs = append(errs, fmt.Sprintf("venues[%d]: fee_rate must be in [0, 1), got %v", i, v.FeeRate))
		}
		if !c.Simulation() && (v.APIKey == "" || v.APISecret == "") {
			errs = append(errs, fmt.Sprintf("venues[%d]: api_key and api_secret are required outside simulation", i))
		}
	}

	// Strategy
	s := c.Strategy
	if s.MinMargin < 0 {
		errs = append(errs, "strategy: min_margin must be >= 0")
	}
	if s.BookMaxAge.Duration <= 0 {
		errs = append(errs, "strategy: book_max_age must be > 0")
	}
	if s.BalanceSafety <= 0 || s.BalanceSafety > 1 {
		errs = append(errs, "strategy: balance_safety must be in (0, 1]")
	}
	if s.Convergence <= 0 || s.Convergence > 1 {
		errs = append(errs, "strategy: convergence must be in (0, 1]")
	}
	if s.SpreadScan < 0 {
		errs = append(errs, "strategy: spread_scan must be >= 0")
	}

	// Rebalance
	r := c.Rebalance
	if r.ImbalanceThreshold <= 0 {
		errs = append(errs, "rebalance: imbalance_threshold must be > 0")
	}
	if r.FillThreshold <= 0 || r.FillThreshold > 1 {
		errs = append(errs, "rebalance: fill_threshold must be in (0, 1]")
	}
	if r.MaxAttempts < 1 {
		errs = append(errs, "rebalance: max_attempts must be >= 1")
	}
	if r.LopsidedFactor <= 1 {
		errs = append(errs, "rebalance: lopsided_factor must be > 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Venue
// credentials are addressed by upper-cased venue name, e.g.
// ARBBOT_VENUE_BINANCE_API_KEY.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "ARBBOT_MODE")
	setBool(&cfg.Simulate, "ARBBOT_SIMULATE")
	setStr(&cfg.Log.Level, "ARBBOT_LOG_LEVEL")

	// ── Engine ──
	setStr(&cfg.Engine.Quote, "ARBBOT_ENGINE_QUOTE")
	setStringSlice(&cfg.Engine.Assets, "ARBBOT_ENGINE_ASSETS")
	setDuration(&cfg.Engine.TickInterval, "ARBBOT_ENGINE_TICK_INTERVAL")
	setInt(&cfg.Engine.BookDepth, "ARBBOT_ENGINE_BOOK_DEPTH")
	setDuration(&cfg.Engine.VenueTimeout, "ARBBOT_ENGINE_VENUE_TIMEOUT")

	// ── Venues ──
	for i := range cfg.Venues {
		prefix := "ARBBOT_VENUE_" + envKey(cfg.Venues[i].Name) + "_"
		setStr(&cfg.Venues[i].APIKey, prefix+"API_KEY")
		setStr(&cfg.Venues[i].APISecret, prefix+"API_SECRET")
		setStr(&cfg.Venues[i].BaseURL, prefix+"BASE_URL")
		setFloat64(&cfg.Venues[i].FeeRate, prefix+"FEE_RATE")
	}

	// ── Strategy ──
	setFloat64(&cfg.Strategy.MinMargin, "ARBBOT_STRATEGY_MIN_MARGIN")
	setDuration(&cfg.Strategy.BookMaxAge, "ARBBOT_STRATEGY_BOOK_MAX_AGE")
	setFloat64(&cfg.Strategy.MinNotional, "ARBBOT_STRATEGY_MIN_NOTIONAL")
	setFloat64(&cfg.Strategy.SpreadScan, "ARBBOT_STRATEGY_SPREAD_SCAN")

	// ── Rebalance ──
	setBool(&cfg.Rebalance.Enabled, "ARBBOT_REBALANCE_ENABLED")
	setFloat64(&cfg.Rebalance.FillThreshold, "ARBBOT_REBALANCE_FILL_THRESHOLD")
	setInt(&cfg.Rebalance.MaxAttempts, "ARBBOT_REBALANCE_MAX_ATTEMPTS")
	setDuration(&cfg.Rebalance.Interval, "ARBBOT_REBALANCE_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBBOT_POSTGRES_SSL_MODE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ARBBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBBOT_S3_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBBOT_NOTIFY_EVENTS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ARBBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBBOT_SERVER_CORS_ORIGINS")
}

func envKey(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// Package config defines the top-level configuration for the auction
// clearing daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTIOND_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Store    StoreConfig    `toml:"store"`
	Clearing ClearingConfig `toml:"clearing"`
	Tax      TaxConfig      `toml:"tax"`
	XP       XPConfig       `toml:"xp"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory". The memory backend loses all state
	// on exit and is meant for local runs and demos.
	Backend string `toml:"backend"`
}

// ClearingConfig holds the cycle cadence and the ranking, tie-break and fee
// parameters of the clearing engine.
type ClearingConfig struct {
	CycleDuration     duration `toml:"cycle_duration"`
	Interval          duration `toml:"interval"`
	Concurrency       int      `toml:"concurrency"`
	StuckTimeout      duration `toml:"stuck_timeout"`
	LockTTL           duration `toml:"lock_ttl"`
	SideEffectTimeout duration `toml:"side_effect_timeout"`

	PriceWeight       float64  `toml:"price_weight"`
	AttributeWeight   float64  `toml:"attribute_weight"`
	MaxAttributeBonus float64  `toml:"max_attribute_bonus"`
	AffiliationBonus  float64  `toml:"affiliation_bonus"`
	BonusProfessions  []string `toml:"bonus_professions"`

	TieThreshold         float64 `toml:"tie_threshold"`
	RollDie              int     `toml:"roll_die"`
	AffiliationRollBonus int     `toml:"affiliation_roll_bonus"`
	// RollSecret keys the per-listing roll seed. Empty disables replayable
	// rolls.
	RollSecret string `toml:"roll_secret"`

	StandardFeeRate         float64  `toml:"standard_fee_rate"`
	PreferentialFeeRate     float64  `toml:"preferential_fee_rate"`
	PreferentialProfessions []string `toml:"preferential_professions"`
}

// TaxConfig configures the location tax lookup.
type TaxConfig struct {
	DefaultRate float64            `toml:"default_rate"`
	Overrides   map[string]float64 `toml:"overrides"`
	CacheTTL    duration           `toml:"cache_ttl"`
}

// XPConfig configures the experience hook run after each settlement.
type XPConfig struct {
	Enabled    bool    `toml:"enabled"`
	BuyerBase  int64   `toml:"buyer_base"`
	SellerBase int64   `toml:"seller_base"`
	PerGold    float64 `toml:"per_gold"`
}

// ArchiveConfig configures cold storage of old records.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration wraps time.Duration so it can be decoded from TOML strings such as
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the operator HTTP API settings.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	ResolveLimit  int      `toml:"resolve_limit"`
	ResolveWindow duration `toml:"resolve_window"`
}

// NotifyConfig holds operator alert channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with sensible defaults for local
// development.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctionhouse",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "auctiond:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "auctionhouse-archive",
			ForcePathStyle: true,
		},
		Store: StoreConfig{Backend: "postgres"},
		Clearing: ClearingConfig{
			CycleDuration:     duration{5 * time.Minute},
			Interval:          duration{time.Minute},
			Concurrency:       4,
			StuckTimeout:      duration{15 * time.Minute},
			LockTTL:           duration{5 * time.Minute},
			SideEffectTimeout: duration{10 * time.Second},

			PriceWeight:       10,
			AttributeWeight:   0.01,
			MaxAttributeBonus: 0.05,
			AffiliationBonus:  0.02,
			BonusProfessions:  []string{"merchant"},

			TieThreshold:         0.1,
			RollDie:              20,
			AffiliationRollBonus: 2,

			StandardFeeRate:         0.05,
			PreferentialFeeRate:     0.02,
			PreferentialProfessions: []string{"merchant"},
		},
		Tax: TaxConfig{
			DefaultRate: 0.05,
			Overrides:   map[string]float64{},
			CacheTTL:    duration{time.Minute},
		},
		XP: XPConfig{
			Enabled:    true,
			BuyerBase:  5,
			SellerBase: 5,
			PerGold:    0.1,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			ResolveLimit:  10,
			ResolveWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"cycle_failed", "integrity_warning"},
			Cooldown: duration{5 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scheduler": true,
	"server":    true,
	"full":      true,
	"once":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scheduler, server, full, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validBackends[strings.ToLower(c.Store.Backend)] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, memory)", c.Store.Backend))
	}

	// Postgres
	if strings.EqualFold(c.Store.Backend, "postgres") {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
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

	// Clearing
	cl := c.Clearing
	if cl.CycleDuration.Duration <= 0 {
		errs = append(errs, "clearing: cycle_duration must be > 0")
	}
	if cl.Interval.Duration <= 0 {
		errs = append(errs, "clearing: interval must be > 0")
	}
	if cl.Concurrency < 1 {
		errs = append(errs, "clearing: concurrency must be >= 1")
	}
	if cl.StuckTimeout.Duration < 0 {
		errs = append(errs, "clearing: stuck_timeout must be >= 0")
	}
	if cl.StuckTimeout.Duration > 0 && cl.StuckTimeout.Duration <= cl.LockTTL.Duration {
		errs = append(errs, "clearing: stuck_timeout must exceed lock_ttl")
	}
	if cl.PriceWeight <= 0 {
		errs = append(errs, "clearing: price_weight must be > 0")
	}
	if cl.AttributeWeight < 0 || cl.MaxAttributeBonus < 0 || cl.AffiliationBonus < 0 {
		errs = append(errs, "clearing: attribute_weight, max_attribute_bonus and affiliation_bonus must be >= 0")
	}
	if cl.TieThreshold < 0 {
		errs = append(errs, "clearing: tie_threshold must be >= 0")
	}
	if cl.RollDie < 2 {
		errs = append(errs, "clearing: roll_die must be >= 2")
	}
	if !validRate(cl.StandardFeeRate) || !validRate(cl.PreferentialFeeRate) {
		errs = append(errs, "clearing: fee rates must be in [0, 1)")
	}

	// Tax
	if !validTaxRate(c.Tax.DefaultRate) {
		errs = append(errs, fmt.Sprintf("tax: default_rate must be in [0, 0.5], got %v", c.Tax.DefaultRate))
	}
	for market, rate := range c.Tax.Overrides {
		if !validTaxRate(rate) {
			errs = append(errs, fmt.Sprintf("tax: override for %q must be in [0, 0.5], got %v", market, rate))
		}
	}

	// XP
	if c.XP.Enabled && (c.XP.BuyerBase < 0 || c.XP.SellerBase < 0 || c.XP.PerGold < 0) {
		errs = append(errs, "xp: awards must be >= 0")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ResolveLimit < 0 {
			errs = append(errs, "server: resolve_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validRate(r float64) bool { return r >= 0 && r < 1 }

func validTaxRate(r float64) bool { return r >= 0 && r <= 0.5 }

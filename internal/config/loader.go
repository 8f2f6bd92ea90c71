package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "AUCTIOND_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTIOND_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTIOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")

	// ── Store ──
	setStr(&cfg.Store.Backend, "STORE_BACKEND")

	// ── Clearing ──
	setDuration(&cfg.Clearing.CycleDuration, "CLEARING_CYCLE_DURATION")
	setDuration(&cfg.Clearing.Interval, "CLEARING_INTERVAL")
	setInt(&cfg.Clearing.Concurrency, "CLEARING_CONCURRENCY")
	setDuration(&cfg.Clearing.StuckTimeout, "CLEARING_STUCK_TIMEOUT")
	setDuration(&cfg.Clearing.LockTTL, "CLEARING_LOCK_TTL")
	setDuration(&cfg.Clearing.SideEffectTimeout, "CLEARING_SIDE_EFFECT_TIMEOUT")
	setFloat64(&cfg.Clearing.PriceWeight, "CLEARING_PRICE_WEIGHT")
	setFloat64(&cfg.Clearing.AttributeWeight, "CLEARING_ATTRIBUTE_WEIGHT")
	setFloat64(&cfg.Clearing.MaxAttributeBonus, "CLEARING_MAX_ATTRIBUTE_BONUS")
	setFloat64(&cfg.Clearing.AffiliationBonus, "CLEARING_AFFILIATION_BONUS")
	setStringSlice(&cfg.Clearing.BonusProfessions, "CLEARING_BONUS_PROFESSIONS")
	setFloat64(&cfg.Clearing.TieThreshold, "CLEARING_TIE_THRESHOLD")
	setInt(&cfg.Clearing.RollDie, "CLEARING_ROLL_DIE")
	setInt(&cfg.Clearing.AffiliationRollBonus, "CLEARING_AFFILIATION_ROLL_BONUS")
	setStr(&cfg.Clearing.RollSecret, "CLEARING_ROLL_SECRET")
	setFloat64(&cfg.Clearing.StandardFeeRate, "CLEARING_STANDARD_FEE_RATE")
	setFloat64(&cfg.Clearing.PreferentialFeeRate, "CLEARING_PREFERENTIAL_FEE_RATE")
	setStringSlice(&cfg.Clearing.PreferentialProfessions, "CLEARING_PREFERENTIAL_PROFESSIONS")

	// ── Tax ──
	setFloat64(&cfg.Tax.DefaultRate, "TAX_DEFAULT_RATE")
	setDuration(&cfg.Tax.CacheTTL, "TAX_CACHE_TTL")

	// ── XP ──
	setBool(&cfg.XP.Enabled, "XP_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.ResolveLimit, "SERVER_RESOLVE_LIMIT")
	setDuration(&cfg.Server.ResolveWindow, "SERVER_RESOLVE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
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

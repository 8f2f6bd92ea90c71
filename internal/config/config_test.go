package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	check.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Store.Backend = "sqlite"
	cfg.Clearing.RollDie = 1
	cfg.Tax.DefaultRate = 0.6
	cfg.Tax.Overrides = map[string]float64{"m-1": -0.1}
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	assert.True(t, err != nil)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		`store: unknown backend "sqlite"`,
		"clearing: roll_die must be >= 2",
		"tax: default_rate must be in [0, 0.5]",
		`tax: override for "m-1"`,
		"notify: telegram_token and telegram_chat_id must be set together",
	} {
		check.True(t, strings.Contains(msg, want))
	}
}

func TestValidateSkipsPostgresForMemoryBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "memory"
	cfg.Postgres.Host = ""
	cfg.Postgres.PoolMaxConns = 0
	check.NoError(t, cfg.Validate())
}

func TestValidateStuckTimeoutMustExceedLockTTL(t *testing.T) {
	cfg := Defaults()
	cfg.Clearing.StuckTimeout = duration{time.Minute}
	cfg.Clearing.LockTTL = duration{5 * time.Minute}
	err := cfg.Validate()
	assert.True(t, err != nil)
	check.True(t, strings.Contains(err.Error(), "stuck_timeout must exceed lock_ttl"))

	cfg.Clearing.StuckTimeout = duration{}
	check.NoError(t, cfg.Validate())
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	assert.True(t, err != nil)
	check.True(t, strings.Contains(err.Error(), "s3: bucket must not be empty"))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auctiond.toml")
	body := `
mode = "scheduler"

[store]
backend = "memory"

[clearing]
cycle_duration = "90s"
tie_threshold = 0.25
bonus_professions = ["bard", "merchant"]

[tax.overrides]
market-7 = 0.12
`
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, "scheduler", cfg.Mode)
	check.Equal(t, "memory", cfg.Store.Backend)
	check.Equal(t, 90*time.Second, cfg.Clearing.CycleDuration.Duration)
	check.Equal(t, 0.25, cfg.Clearing.TieThreshold)
	check.Equal(t, []string{"bard", "merchant"}, cfg.Clearing.BonusProfessions)
	check.Equal(t, 0.12, cfg.Tax.Overrides["market-7"])
	// Untouched keys keep their defaults.
	check.Equal(t, 20, cfg.Clearing.RollDie)
	check.Equal(t, time.Minute, cfg.Clearing.Interval.Duration)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUCTIOND_MODE", "once")
	t.Setenv("AUCTIOND_CLEARING_INTERVAL", "15s")
	t.Setenv("AUCTIOND_CLEARING_CONCURRENCY", "8")
	t.Setenv("AUCTIOND_CLEARING_PREFERENTIAL_PROFESSIONS", " smith , ,alchemist")
	t.Setenv("AUCTIOND_REDIS_ENABLED", "false")
	t.Setenv("AUCTIOND_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	assert.NoError(t, err)
	check.Equal(t, "once", cfg.Mode)
	check.Equal(t, 15*time.Second, cfg.Clearing.Interval.Duration)
	check.Equal(t, 8, cfg.Clearing.Concurrency)
	check.Equal(t, []string{"smith", "alchemist"}, cfg.Clearing.PreferentialProfessions)
	check.False(t, cfg.Redis.Enabled)
	// Unparseable values leave the default in place.
	check.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	check.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Clearing.RollSecret = "seed"
	cfg.Server.APIKey = "key"
	cfg.Tax.Overrides["m-1"] = 0.1

	out := RedactedConfig(&cfg)
	check.Equal(t, "***", out.Postgres.Password)
	check.Equal(t, "***", out.Clearing.RollSecret)
	check.Equal(t, "***", out.Server.APIKey)
	// Empty secrets stay empty so operators can tell they are unset.
	check.Equal(t, "", out.Redis.Password)

	out.Tax.Overrides["m-1"] = 0.4
	out.Server.CORSOrigins[0] = "changed"
	check.Equal(t, 0.1, cfg.Tax.Overrides["m-1"])
	check.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	check.Equal(t, "hunter2", cfg.Postgres.Password)
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/auctionhouse/internal/blob/s3"
	"github.com/alanyoungcy/auctionhouse/internal/cache/redis"
	"github.com/alanyoungcy/auctionhouse/internal/config"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/notify"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
	"github.com/alanyoungcy/auctionhouse/internal/store/postgres"
	"github.com/alanyoungcy/auctionhouse/internal/taxpolicy"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Markets      domain.MarketStore
	Cycles       domain.CycleStore
	Listings     domain.ListingStore
	Settlements  domain.SettlementStore
	Transactions domain.TransactionStore
	Prices       domain.PriceHistoryStore
	Audit        domain.AuditStore

	// External collaborators
	Directory    domain.BuyerDirectory
	Restrictions domain.TradeRestrictions
	Tax          domain.TaxPolicy

	// Redis-backed; nil when redis is disabled.
	Locks       domain.LockManager
	SignalBus   domain.SignalBus
	Emitter     domain.EventEmitter
	RateLimiter domain.RateLimiter

	// Blob storage; nil unless archiving is enabled.
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Pingers are reported by the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	// --- Stores ---
	var taxSource domain.TaxPolicy
	switch strings.ToLower(cfg.Store.Backend) {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; state is lost on exit")
		mem := memory.New()
		deps.Markets = mem.Markets()
		deps.Cycles = mem.Cycles()
		deps.Listings = mem.Listings()
		deps.Settlements = mem.Settlements()
		deps.Transactions = mem.Transactions()
		deps.Prices = mem.Prices()
		deps.Audit = mem.Audit()
		deps.Directory = mem
		deps.Restrictions = mem
		taxSource = mem
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		markets := postgres.NewMarketStore(pool)
		participants := postgres.NewParticipantStore(pool)
		deps.Markets = markets
		deps.Cycles = postgres.NewCycleStore(pool)
		deps.Listings = postgres.NewListingStore(pool)
		deps.Settlements = postgres.NewSettlementStore(pool)
		deps.Transactions = postgres.NewTransactionStore(pool)
		deps.Prices = postgres.NewPriceHistoryStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Directory = participants
		deps.Restrictions = participants
		deps.Pingers["postgres"] = pgClient
		taxSource = markets
	}

	// --- Tax policy ---
	deps.Tax = taxpolicy.Static{
		Default:   cfg.Tax.DefaultRate,
		Overrides: cfg.Tax.Overrides,
		Fallback:  taxSource,
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.SignalBus = bus
		deps.Emitter = redis.NewTradeEmitter(bus)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Tax = taxpolicy.NewCached(deps.Tax, redis.NewTaxRateCache(redisClient), cfg.Tax.CacheTTL.Duration, logger)
		deps.Pingers["redis"] = redisClient
	} else {
		logger.WarnContext(ctx, "redis disabled; running without lock, event bus or websocket feed")
	}

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Transactions,
			deps.Cycles,
			deps.Audit,
		)
		deps.Pingers["s3"] = s3Client
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
		WithCooldown(cfg.Notify.Cooldown.Duration)

	return deps, cleanup, nil
}

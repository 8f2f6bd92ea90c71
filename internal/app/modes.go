package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctionhouse/internal/clearing"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/hooks"
	"github.com/alanyoungcy/auctionhouse/internal/pipeline"
	"github.com/alanyoungcy/auctionhouse/internal/server"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// engine is the clearing engine assembled from the configuration.
type engine struct {
	manager   *clearing.Manager
	scheduler *clearing.Scheduler
}

// buildEngine assembles the scorer, tie breaker, settler, cycle manager and
// scheduler.
func (a *App) buildEngine(deps *Dependencies) *engine {
	cl := a.cfg.Clearing

	var settlementHooks []domain.SettlementHook
	if a.cfg.XP.Enabled && deps.SignalBus != nil {
		settlementHooks = append(settlementHooks, hooks.NewXPHook(deps.SignalBus, hooks.XPConfig{
			BuyerBase:  a.cfg.XP.BuyerBase,
			SellerBase: a.cfg.XP.SellerBase,
			PerGold:    a.cfg.XP.PerGold,
		}))
	}

	mdeps := clearing.ManagerDeps{
		Cycles:    deps.Cycles,
		Listings:  deps.Listings,
		Directory: deps.Directory,
		Tax:       deps.Tax,
		Scorer: clearing.NewScorer(clearing.ScoringConfig{
			PriceWeight:       cl.PriceWeight,
			AttributeWeight:   cl.AttributeWeight,
			MaxAttributeBonus: cl.MaxAttributeBonus,
			AffiliationBonus:  cl.AffiliationBonus,
			BonusProfessions:  cl.BonusProfessions,
		}),
		TieBreaker: clearing.NewTieBreaker(clearing.TieBreakConfig{
			Threshold:            cl.TieThreshold,
			RollDie:              cl.RollDie,
			AffiliationRollBonus: cl.AffiliationRollBonus,
			BonusProfessions:     cl.BonusProfessions,
		}),
		Settler: clearing.NewSettler(deps.Settlements, clearing.FeeSchedule{
			StandardRate:            cl.StandardFeeRate,
			PreferentialRate:        cl.PreferentialFeeRate,
			PreferentialProfessions: cl.PreferentialProfessions,
		}, a.logger),
		Restrictions: deps.Restrictions,
		Locks:        deps.Locks,
		Emitter:      deps.Emitter,
		Bus:          deps.SignalBus,
		Audit:        deps.Audit,
		Alerter:      deps.Notifier,
		Hooks:        settlementHooks,
	}

	manager := clearing.NewManager(mdeps, clearing.ManagerConfig{
		CycleDuration:     cl.CycleDuration.Duration,
		LockTTL:           cl.LockTTL.Duration,
		RollSecret:        []byte(cl.RollSecret),
		SideEffectTimeout: cl.SideEffectTimeout.Duration,
	}, a.logger)

	scheduler := clearing.NewScheduler(manager, deps.Cycles, clearing.SchedulerConfig{
		Interval:      cl.Interval.Duration,
		CycleDuration: cl.CycleDuration.Duration,
		StuckTimeout:  cl.StuckTimeout.Duration,
		Concurrency:   cl.Concurrency,
	}, a.logger)

	return &engine{manager: manager, scheduler: scheduler}
}

// SchedulerMode runs the clearing scheduler and, when enabled, the archiver.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies, eng *engine) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.scheduler.Run(ctx)
	})
	a.startArchiver(ctx, g, deps, nil)
	return g.Wait()
}

// ServerMode runs only the operator API. Cycles resolve when an operator
// calls the resolve endpoints.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, eng *engine) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, eng, nil)
	return g.Wait()
}

// FullMode runs the scheduler, the archiver and the operator API together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, eng *engine) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.scheduler.Run(ctx)
	})

	var archiveTrigger chan struct{}
	if deps.Archiver != nil {
		archiveTrigger = make(chan struct{}, 1)
	}
	a.startArchiver(ctx, g, deps, archiveTrigger)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng, archiveTrigger)
	}
	return g.Wait()
}

// OnceMode runs a single scheduling pass and returns. It suits cron-driven
// deployments.
func (a *App) OnceMode(ctx context.Context, eng *engine) error {
	a.logger.InfoContext(ctx, "starting once mode")

	sum, err := eng.scheduler.ResolveDueCycles(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "single pass complete",
		slog.Int("bootstrapped", sum.Bootstrapped),
		slog.Int("recovered", sum.Recovered),
		slog.Int("due", sum.Due),
		slog.Int("resolved", sum.Resolved),
		slog.Any("failed", sum.Failed),
		slog.Int("transactions", sum.TransactionsCompleted),
	)
	return nil
}

// startArchiver adds the cron-driven archiver to g when archiving is wired.
// trigger is optional; a send on it requests an immediate run.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, trigger <-chan struct{}) {
	if deps.Archiver == nil {
		return
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	if trigger != nil {
		archiver = archiver.WithTrigger(trigger)
	}
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// startHTTPServer adds the operator API and, when a signal bus is wired, the
// WebSocket hub to g. The server is shut down gracefully when ctx is
// cancelled. archiveTrigger is optional; without it the archive trigger
// endpoint reports the archiver as disabled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	eng *engine,
	archiveTrigger chan<- struct{},
) {
	var (
		hub    *ws.Hub
		trades *handler.TradeFeedHandler
	)
	if deps.SignalBus != nil {
		trades = handler.NewTradeFeedHandler(deps.SignalBus, a.logger)
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      a.startedAt,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		ResolveLimit:  a.cfg.Server.ResolveLimit,
		ResolveWindow: a.cfg.Server.ResolveWindow.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.startedAt, eng.scheduler),
		Markets: handler.NewMarketHandler(deps.Markets, deps.Transactions, deps.Prices, a.logger),
		Cycles:  handler.NewCycleHandler(eng.scheduler, deps.Markets, deps.Cycles, a.logger),
		Audit:   handler.NewAuditHandler(deps.Audit, a.logger),
		Archive: handler.NewArchiveHandler(archiveTrigger, a.logger),
		Trades:  trades,
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

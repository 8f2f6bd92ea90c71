package clearing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"golang.org/x/sync/errgroup"
)

// CycleResolver resolves the open cycle of one market. *Manager satisfies it.
type CycleResolver interface {
	ResolveCycle(ctx context.Context, marketID string) (Result, error)
}

// SchedulerConfig tunes the Scheduler.
type SchedulerConfig struct {
	// Interval is the wall-clock tick period.
	Interval time.Duration
	// CycleDuration is the minimum age of an open cycle before it is due.
	CycleDuration time.Duration
	// StuckTimeout reverts cycles left in processing longer than this.
	// Zero disables recovery.
	StuckTimeout time.Duration
	// Concurrency caps the markets resolved in parallel within one tick.
	Concurrency int
}

// TickSummary reports what one scheduling pass did.
type TickSummary struct {
	Bootstrapped          int      `json:"bootstrapped"`
	Recovered             int      `json:"recovered"`
	Due                   int      `json:"due"`
	Resolved              int      `json:"resolved"`
	Failed                []string `json:"failed,omitempty"`
	OrdersProcessed       int      `json:"orders_processed"`
	TransactionsCompleted int      `json:"transactions_completed"`
}

// Scheduler finds due markets on a fixed interval and resolves each one in
// isolation: a failure in one market is logged and never stops the others.
type Scheduler struct {
	resolver CycleResolver
	cycles   domain.CycleStore
	cfg      SchedulerConfig
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	lastTick time.Time
	lastSum  TickSummary
}

// NewScheduler creates a Scheduler.
func NewScheduler(resolver CycleResolver, cycles domain.CycleStore, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		resolver: resolver,
		cycles:   cycles,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
}

// Run ticks until ctx is cancelled. The first pass runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("cycle_duration", s.cfg.CycleDuration),
		slog.Int("concurrency", s.cfg.Concurrency),
	)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	sum, err := s.ResolveDueCycles(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduling pass failed", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.lastTick, s.lastSum = s.now().UTC(), sum
	s.mu.Unlock()
	if sum.Due > 0 || sum.Bootstrapped > 0 || sum.Recovered > 0 {
		s.logger.InfoContext(ctx, "scheduling pass complete",
			slog.Int("due", sum.Due),
			slog.Int("resolved", sum.Resolved),
			slog.Int("failed", len(sum.Failed)),
			slog.Int("bootstrapped", sum.Bootstrapped),
			slog.Int("recovered", sum.Recovered),
			slog.Int("transactions", sum.TransactionsCompleted),
		)
	}
}

// LastTick returns the summary of the most recent completed timer pass and
// when it finished. ok is false before the first pass.
func (s *Scheduler) LastTick() (sum TickSummary, at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSum, s.lastTick, !s.lastTick.IsZero()
}

// ResolveDueCycles runs one scheduling pass: it reverts stuck cycles, opens a
// cycle for every market without one, then resolves every due market. It is
// safe to call concurrently with itself; the cycle guard ensures a market is
// resolved at most once. Only a failure to enumerate markets is returned;
// per-market failures are logged and listed in the summary.
func (s *Scheduler) ResolveDueCycles(ctx context.Context) (TickSummary, error) {
	var sum TickSummary
	now := s.now().UTC()

	if s.cfg.StuckTimeout > 0 {
		stuck, err := s.cycles.RevertStuck(ctx, now.Add(-s.cfg.StuckTimeout))
		if err != nil {
			s.logger.WarnContext(ctx, "stuck cycle recovery failed", slog.String("error", err.Error()))
		}
		for _, c := range stuck {
			s.logger.WarnContext(ctx, "reverted stuck cycle",
				slog.String("market_id", c.MarketID),
				slog.String("cycle_id", c.ID),
				slog.Int64("cycle_number", c.CycleNumber),
			)
		}
		sum.Recovered = len(stuck)
	}

	bare, err := s.cycles.ListMarketsWithoutCycle(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "list markets without cycle failed", slog.String("error", err.Error()))
	}
	for _, marketID := range bare {
		c, err := s.cycles.Open(ctx, marketID, now)
		if err != nil {
			if !errors.Is(err, domain.ErrAlreadyExists) {
				s.logger.WarnContext(ctx, "open cycle failed",
					slog.String("market_id", marketID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		sum.Bootstrapped++
		s.logger.InfoContext(ctx, "opened first cycle",
			slog.String("market_id", marketID),
			slog.String("cycle_id", c.ID),
			slog.Int64("cycle_number", c.CycleNumber),
		)
	}

	due, err := s.cycles.ListDueMarkets(ctx, now.Add(-s.cfg.CycleDuration))
	if err != nil {
		return sum, fmt.Errorf("scheduler: list due markets: %w", err)
	}
	sum.Due = len(due)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, marketID := range due {
		g.Go(func() error {
			res, err := s.resolveIsolated(gctx, marketID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed = append(sum.Failed, marketID)
				return nil
			}
			if res.CycleID != "" {
				sum.Resolved++
				sum.OrdersProcessed += res.OrdersProcessed
				sum.TransactionsCompleted += res.TransactionsCompleted
			}
			return nil
		})
	}
	_ = g.Wait()

	return sum, nil
}

// ResolveMarket resolves one market's open cycle on demand. A cycle younger
// than the cycle duration is left open and a zero Result is returned.
func (s *Scheduler) ResolveMarket(ctx context.Context, marketID string) (Result, error) {
	return s.resolveIsolated(ctx, marketID)
}

// resolveIsolated is the bulkhead around one market: errors and panics are
// logged and returned, never propagated to sibling markets.
func (s *Scheduler) resolveIsolated(ctx context.Context, marketID string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: market %s panicked: %v", marketID, r)
			s.logger.ErrorContext(ctx, "market resolution panicked",
				slog.String("market_id", marketID),
				slog.Any("panic", r),
			)
		}
	}()

	res, err = s.resolver.ResolveCycle(ctx, marketID)
	if err != nil {
		s.logger.ErrorContext(ctx, "market resolution failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	return res, err
}

package clearing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Alerter pushes operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Alert event names.
const (
	EventCycleFailed   = "cycle_failed"
	EventIntegrity     = "integrity_warning"
	EventCycleResolved = "cycle_resolved"
)

// ManagerConfig tunes the CycleManager.
type ManagerConfig struct {
	// CycleDuration is the minimum age of an open cycle before it may be
	// resolved.
	CycleDuration time.Duration
	// LockTTL bounds how long the per-market lock may be held.
	LockTTL time.Duration
	// RollSecret keys the roll seed. Empty means rolls come from crypto/rand
	// and are not replayable.
	RollSecret []byte
	// SideEffectTimeout bounds each post-commit side effect and the revert.
	SideEffectTimeout time.Duration
}

// ManagerDeps are the collaborators of a Manager. Fields marked optional may
// be nil.
type ManagerDeps struct {
	Cycles     domain.CycleStore
	Listings   domain.ListingStore
	Directory  domain.BuyerDirectory
	Tax        domain.TaxPolicy
	Scorer     *Scorer
	TieBreaker *TieBreaker
	Settler    *Settler

	Restrictions domain.TradeRestrictions // optional
	Locks        domain.LockManager       // optional
	Emitter      domain.EventEmitter      // optional
	Bus          domain.SignalBus         // optional
	Audit        domain.AuditStore        // optional
	Alerter      Alerter                  // optional
	Hooks        []domain.SettlementHook
}

// Result summarises one resolveCycle call. The zero Result means nothing was
// resolved.
type Result struct {
	MarketID              string `json:"market_id,omitempty"`
	CycleID               string `json:"cycle_id,omitempty"`
	NextCycleID           string `json:"next_cycle_id,omitempty"`
	OrdersProcessed       int    `json:"orders_processed"`
	TransactionsCompleted int    `json:"transactions_completed"`
	FailedListings        int    `json:"failed_listings"`
}

// Manager resolves the open cycle of one market at a time.
type Manager struct {
	deps   ManagerDeps
	cfg    ManagerConfig
	now    func() time.Time
	logger *slog.Logger

	effects sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(deps ManagerDeps, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 10 * time.Second
	}
	return &Manager{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "cycle_manager")),
	}
}

// Wait blocks until every in-flight post-settlement side effect returns.
func (m *Manager) Wait() {
	m.effects.Wait()
}

// ResolveCycle clears the market's open cycle. It moves the cycle to
// processing, settles every contested listing, writes the cycle stats,
// resolves the cycle and opens the next one. If another resolver owns the
// cycle, the market has no open cycle, or the open cycle is younger than
// CycleDuration, it returns a zero Result and no error. Any error other than a per-listing invariant violation reverts the
// cycle to open and is returned; listings settled before the failure stay
// sold and are skipped on retry.
func (m *Manager) ResolveCycle(ctx context.Context, marketID string) (Result, error) {
	logger := m.logger.With(slog.String("market_id", marketID))

	cycle, err := m.deps.Cycles.GetOpen(ctx, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("clearing: open cycle for %s: %w", marketID, err)
	}
	logger = logger.With(
		slog.String("cycle_id", cycle.ID),
		slog.Int64("cycle_number", cycle.CycleNumber),
	)

	now := m.now().UTC()
	if !cycle.Due(now, m.cfg.CycleDuration) {
		logger.Debug("cycle not due", slog.Duration("age", now.Sub(cycle.StartedAt)))
		return Result{}, nil
	}

	if m.deps.Locks != nil {
		unlock, err := m.deps.Locks.Acquire(ctx, "cycle:"+marketID, m.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			logger.Debug("market locked by another resolver")
			return Result{}, nil
		case err != nil:
			// The open->processing update is still the authoritative guard.
			logger.Warn("lock unavailable, relying on cycle guard", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	now = m.now().UTC()
	if err := m.deps.Cycles.BeginProcessing(ctx, cycle.ID, now, now.Add(-m.cfg.CycleDuration)); err != nil {
		switch {
		case errors.Is(err, domain.ErrCycleBusy):
			logger.Debug("cycle already claimed")
			return Result{}, nil
		case errors.Is(err, domain.ErrCycleNotDue):
			logger.Debug("cycle not due")
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("clearing: begin processing %s: %w", cycle.ID, err)
	}
	logger.Info("cycle processing")

	stats, err := m.clear(ctx, cycle, logger)
	if err != nil {
		m.revert(ctx, cycle, logger, err)
		return Result{}, fmt.Errorf("clearing: resolve %s: %w", cycle.ID, err)
	}

	resolvedAt := m.now().UTC()
	next, err := m.deps.Cycles.Resolve(ctx, cycle.ID, stats, resolvedAt)
	if err != nil {
		m.revert(ctx, cycle, logger, err)
		return Result{}, fmt.Errorf("clearing: resolve %s: %w", cycle.ID, err)
	}

	logger.Info("cycle resolved",
		slog.Int("orders_processed", stats.OrdersProcessed),
		slog.Int("transactions", stats.TransactionsCompleted),
		slog.Int("failed_listings", stats.FailedListings),
		slog.Int64("value_traded", stats.TotalValueTraded),
		slog.String("next_cycle_id", next.ID),
	)
	m.cycleResolved(ctx, cycle, next, stats, resolvedAt, logger)

	return Result{
		MarketID:              marketID,
		CycleID:               cycle.ID,
		NextCycleID:           next.ID,
		OrdersProcessed:       stats.OrdersProcessed,
		TransactionsCompleted: stats.TransactionsCompleted,
		FailedListings:        stats.FailedListings,
	}, nil
}

// clear settles every contested listing of a processing cycle.
func (m *Manager) clear(ctx context.Context, cycle domain.AuctionCycle, logger *slog.Logger) (domain.CycleStats, error) {
	taxRate, err := m.deps.Tax.EffectiveTaxRate(ctx, cycle.MarketID)
	if err != nil {
		return domain.CycleStats{}, fmt.Errorf("tax rate: %w", err)
	}
	if clamped := ClampTaxRate(taxRate); clamped != taxRate {
		logger.Warn("tax rate out of range, clamped",
			slog.Float64("rate", taxRate),
			slog.Float64("clamped", clamped),
		)
		taxRate = clamped
	}

	contested, err := m.deps.Listings.ListContested(ctx, cycle.MarketID)
	if err != nil {
		return domain.CycleStats{}, fmt.Errorf("list contested: %w", err)
	}

	acc := newStatsAccumulator()
	for _, cl := range contested {
		if err := ctx.Err(); err != nil {
			return domain.CycleStats{}, err
		}
		llog := logger.With(slog.String("listing_id", cl.Listing.ID))

		rec, winner, err := m.clearListing(ctx, cycle, cl, taxRate)
		switch {
		case err == nil:
			acc.listing(len(cl.Orders))
			if rec != nil {
				acc.settled(*rec, winner)
				m.afterSettlement(ctx, *rec, llog)
			}
		case errors.Is(err, domain.ErrListingNotActive):
			llog.Info("listing already settled, skipping")
		case domain.IsInvariant(err):
			acc.listing(len(cl.Orders))
			acc.failed()
			m.integrityWarning(ctx, cycle, cl.Listing, err, llog)
		default:
			return domain.CycleStats{}, err
		}
	}
	return acc.snapshot(), nil
}

// clearListing ranks and settles one listing. It returns a nil record when
// every order was refused by trade restrictions.
func (m *Manager) clearListing(ctx context.Context, cycle domain.AuctionCycle, cl domain.ContestedListing, taxRate float64) (*domain.TransactionRecord, domain.BuyerAttributes, error) {
	listing := cl.Listing

	ids := make([]string, 0, len(cl.Orders)+1)
	ids = append(ids, listing.SellerID)
	for _, o := range cl.Orders {
		ids = append(ids, o.BuyerID)
	}
	attrs, err := m.deps.Directory.Attributes(ctx, dedupe(ids))
	if err != nil {
		return nil, domain.BuyerAttributes{}, fmt.Errorf("buyer attributes: %w", err)
	}
	attrsOf := func(id string) domain.BuyerAttributes {
		if a, ok := attrs[id]; ok {
			return a
		}
		return domain.BuyerAttributes{ParticipantID: id}
	}

	eligible, rejected, err := m.filterRestricted(ctx, listing.MarketID, cl.Orders)
	if err != nil {
		return nil, domain.BuyerAttributes{}, err
	}
	if len(eligible) == 0 {
		if err := m.deps.Settler.Reject(ctx, cycle.ID, listing.ID, rejected, domain.BasisRestricted); err != nil {
			return nil, domain.BuyerAttributes{}, err
		}
		return nil, domain.BuyerAttributes{}, nil
	}

	scored := make([]Scored, len(eligible))
	orderIDs := make([]string, len(eligible))
	for i, o := range eligible {
		a := attrsOf(o.BuyerID)
		scored[i] = Scored{Order: o, Attrs: a, Score: m.deps.Scorer.Score(o, listing, a)}
		orderIDs[i] = o.ID
	}

	var (
		rng  RandSource
		seed []byte
	)
	if len(m.cfg.RollSecret) > 0 && m.deps.TieBreaker.NeedsRoll(scored) {
		seed, err = RollSeed(m.cfg.RollSecret, cycle.ID, listing.ID, orderIDs)
		if err != nil {
			return nil, domain.BuyerAttributes{}, err
		}
		rng = NewSeededSource(seed)
	}

	ranking, err := m.deps.TieBreaker.Resolve(scored, rng)
	if err != nil {
		return nil, domain.BuyerAttributes{}, err
	}

	rec, err := m.deps.Settler.Settle(ctx, SettleRequest{
		CycleID:  cycle.ID,
		Listing:  listing,
		Ranking:  ranking,
		Rejected: rejected,
		Seller:   attrsOf(listing.SellerID),
		TaxRate:  taxRate,
		RollSeed: seed,
	})
	if err != nil {
		return nil, domain.BuyerAttributes{}, err
	}
	return &rec, ranking.Winner().Attrs, nil
}

func (m *Manager) filterRestricted(ctx context.Context, marketID string, orders []domain.BuyOrder) (eligible, rejected []domain.BuyOrder, err error) {
	if m.deps.Restrictions == nil {
		return orders, nil, nil
	}
	for _, o := range orders {
		blocked, err := m.deps.Restrictions.Blocked(ctx, marketID, o.BuyerID)
		if err != nil {
			return nil, nil, fmt.Errorf("trade restrictions: %w", err)
		}
		if blocked {
			rejected = append(rejected, o)
			continue
		}
		eligible = append(eligible, o)
	}
	return eligible, rejected, nil
}

// afterSettlement fires the trade event and settlement hooks in the
// background. Their failures are logged and never retried.
func (m *Manager) afterSettlement(ctx context.Context, rec domain.TransactionRecord, logger *slog.Logger) {
	if m.deps.Emitter == nil && len(m.deps.Hooks) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	m.effects.Add(1)
	go func() {
		defer m.effects.Done()
		if m.deps.Emitter != nil {
			ectx, cancel := context.WithTimeout(base, m.cfg.SideEffectTimeout)
			if err := m.deps.Emitter.EmitTrade(ectx, domain.NewTradeEvent(rec)); err != nil {
				logger.Warn("trade event failed", slog.String("error", err.Error()))
			}
			cancel()
		}
		for _, h := range m.deps.Hooks {
			hctx, cancel := context.WithTimeout(base, m.cfg.SideEffectTimeout)
			if err := runHook(hctx, h, rec); err != nil {
				logger.Warn("settlement hook failed",
					slog.String("hook", h.Name()),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}()
}

func runHook(ctx context.Context, h domain.SettlementHook, rec domain.TransactionRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.AfterSettlement(ctx, rec)
}

func (m *Manager) integrityWarning(ctx context.Context, cycle domain.AuctionCycle, listing domain.Listing, cause error, logger *slog.Logger) {
	logger.Warn("listing settlement aborted",
		slog.Bool("integrity", true),
		slog.String("error", cause.Error()),
	)
	m.audit(ctx, "integrity_warning", map[string]any{
		"market_id":  cycle.MarketID,
		"cycle_id":   cycle.ID,
		"listing_id": listing.ID,
		"error":      cause.Error(),
	}, logger)
	m.alert(ctx, EventIntegrity, "Ledger integrity warning",
		fmt.Sprintf("market %s cycle #%d listing %s: %v", cycle.MarketID, cycle.CycleNumber, listing.ID, cause), logger)
}

// revert returns a failed cycle to open. It runs on a detached context so a
// cancelled tick still leaves the cycle retryable.
func (m *Manager) revert(ctx context.Context, cycle domain.AuctionCycle, logger *slog.Logger, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SideEffectTimeout)
	defer cancel()

	if err := m.deps.Cycles.RevertToOpen(rctx, cycle.ID); err != nil {
		logger.Error("revert to open failed",
			slog.String("error", err.Error()),
			slog.String("cause", cause.Error()),
		)
	} else {
		logger.Error("cycle failed, reverted to open", slog.String("error", cause.Error()))
	}
	m.audit(rctx, "cycle_reverted", map[string]any{
		"market_id":    cycle.MarketID,
		"cycle_id":     cycle.ID,
		"cycle_number": cycle.CycleNumber,
		"error":        cause.Error(),
	}, logger)
	m.alert(rctx, EventCycleFailed, "Cycle resolution failed",
		fmt.Sprintf("market %s cycle #%d: %v", cycle.MarketID, cycle.CycleNumber, cause), logger)
}

func (m *Manager) cycleResolved(ctx context.Context, cycle, next domain.AuctionCycle, stats domain.CycleStats, at time.Time, logger *slog.Logger) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SideEffectTimeout)
	defer cancel()

	m.audit(sctx, "cycle_resolved", map[string]any{
		"market_id":     cycle.MarketID,
		"cycle_id":      cycle.ID,
		"cycle_number":  cycle.CycleNumber,
		"next_cycle_id": next.ID,
		"transactions":  stats.TransactionsCompleted,
		"value_traded":  stats.TotalValueTraded,
	}, logger)

	if m.deps.Bus != nil {
		payload, err := json.Marshal(domain.CycleEvent{
			MarketID:    cycle.MarketID,
			CycleID:     cycle.ID,
			CycleNumber: cycle.CycleNumber,
			Status:      domain.CycleResolved,
			Stats:       stats,
			NextCycleID: next.ID,
			At:          at,
		})
		if err == nil {
			err = m.deps.Bus.Publish(sctx, domain.ChannelCycles, payload)
		}
		if err != nil {
			logger.Warn("cycle event failed", slog.String("error", err.Error()))
		}
	}

	if stats.TransactionsCompleted > 0 {
		m.alert(sctx, EventCycleResolved, "Cycle resolved",
			fmt.Sprintf("market %s cycle #%d: %d trades, %d gold", cycle.MarketID, cycle.CycleNumber,
				stats.TransactionsCompleted, stats.TotalValueTraded), logger)
	}
}

func (m *Manager) audit(ctx context.Context, event string, detail map[string]any, logger *slog.Logger) {
	if m.deps.Audit == nil {
		return
	}
	if err := m.deps.Audit.Log(ctx, event, detail); err != nil {
		logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (m *Manager) alert(ctx context.Context, event, title, message string, logger *slog.Logger) {
	if m.deps.Alerter == nil {
		return
	}
	if err := m.deps.Alerter.Notify(ctx, event, title, message); err != nil {
		logger.Warn("alert failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

package clearing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errTransient = errors.New("connection reset")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScoring() ScoringConfig {
	return ScoringConfig{
		PriceWeight:       10,
		AttributeWeight:   0.01,
		MaxAttributeBonus: 0.05,
		AffiliationBonus:  0.02,
		BonusProfessions:  []string{"merchant"},
	}
}

func testTieBreak() TieBreakConfig {
	return TieBreakConfig{
		Threshold:            0.1,
		RollDie:              20,
		AffiliationRollBonus: 2,
		BonusProfessions:     []string{"merchant"},
	}
}

func testFees() FeeSchedule {
	return FeeSchedule{
		StandardRate:            0.05,
		PreferentialRate:        0.02,
		PreferentialProfessions: []string{"merchant"},
	}
}

// mockRandSource returns a fixed sequence, modulo n.
type mockRandSource struct {
	sequence []int
	index    int
}

func (m *mockRandSource) Intn(n int) int {
	if m.index >= len(m.sequence) {
		return 0
	}
	val := m.sequence[m.index] % n
	m.index++
	return val
}

// panicRandSource fails the test path that should never roll.
type panicRandSource struct{}

func (panicRandSource) Intn(int) int {
	panic("unexpected roll")
}

// world is a seeded memory store with one market and an open cycle that is
// already due.
type world struct {
	store  *memory.Store
	market string
	cycle  domain.AuctionCycle
}

func newWorld() *world {
	st := memory.New()
	st.PutMarket(domain.Market{ID: "m1", Name: "Ironforge", TaxRate: 0.1, CreatedAt: t0.Add(-48 * time.Hour)})
	cycle := domain.AuctionCycle{
		ID:          "c1",
		MarketID:    "m1",
		CycleNumber: 1,
		Status:      domain.CycleOpen,
		StartedAt:   t0.Add(-2 * time.Hour),
	}
	st.PutCycle(cycle)
	return &world{store: st, market: "m1", cycle: cycle}
}

func (w *world) participant(id, profession string, charisma int, available, escrow int64) {
	w.store.PutParticipant(domain.BuyerAttributes{
		ParticipantID:    id,
		CharismaModifier: charisma,
		Profession:       profession,
	}, available, escrow)
}

func (w *world) listing(id, seller, item string, qty, ask int64) domain.Listing {
	l := domain.Listing{
		ID:        id,
		MarketID:  w.market,
		SellerID:  seller,
		ItemRef:   item,
		ItemName:  item,
		Quantity:  qty,
		AskPrice:  ask,
		Status:    domain.ListingActive,
		CreatedAt: t0.Add(-3 * time.Hour),
	}
	w.store.PutListing(l)
	return l
}

func (w *world) order(id, listingID, buyer string, bid int64, placed time.Duration) domain.BuyOrder {
	o := domain.BuyOrder{
		ID:        id,
		ListingID: listingID,
		BuyerID:   buyer,
		BidPrice:  bid,
		PlacedAt:  t0.Add(-placed),
		Status:    domain.OrderPending,
	}
	w.store.PutOrder(o)
	return o
}

func (w *world) settler() *Settler {
	s := NewSettler(w.store.Settlements(), testFees(), testLogger())
	s.now = func() time.Time { return t0 }
	return s
}

func (w *world) deps() ManagerDeps {
	return ManagerDeps{
		Cycles:       w.store.Cycles(),
		Listings:     w.store.Listings(),
		Directory:    w.store,
		Tax:          w.store,
		Restrictions: w.store,
		Audit:        w.store.Audit(),
		Scorer:       NewScorer(testScoring()),
		TieBreaker:   NewTieBreaker(testTieBreak()),
		Settler:      w.settler(),
	}
}

func (w *world) manager(deps ManagerDeps, cfg ManagerConfig) *Manager {
	m := NewManager(deps, cfg, testLogger())
	m.now = func() time.Time { return t0 }
	return m
}

// recordingAlerter captures alerts.
type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAlerter) count(event string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.events {
		if e == event {
			n++
		}
	}
	return n
}

// recordingEmitter captures trade events and can be told to fail.
type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.TradeEvent
	err    error
}

func (e *recordingEmitter) EmitTrade(_ context.Context, evt domain.TradeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return e.err
}

// recordingHook captures settlements and can be told to fail or panic.
type recordingHook struct {
	mu      sync.Mutex
	records []domain.TransactionRecord
	err     error
	panics  bool
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) AfterSettlement(_ context.Context, rec domain.TransactionRecord) error {
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	if h.panics {
		panic("hook exploded")
	}
	return h.err
}

// heldLocks is a LockManager whose keys are always held by someone else.
type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

// localLocks is an in-process LockManager.
type localLocks struct {
	mu   sync.Mutex
	held map[string]bool
	seen []string
}

func (l *localLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.seen = append(l.seen, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

package clearing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func auditEvents(t *testing.T, w *world) []string {
	t.Helper()
	entries, err := w.store.Audit().List(context.Background(), domain.AuditQuery{})
	assert.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.Event
	}
	return out
}

func TestResolveCycle_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	w, _, _, _ := exampleWorld()
	m := w.manager(w.deps(), ManagerConfig{})

	res, err := m.ResolveCycle(ctx, "m1")
	assert.NoError(t, err)

	check.Equal(t, "c1", res.CycleID)
	check.Equal(t, 2, res.OrdersProcessed)
	check.Equal(t, 1, res.TransactionsCompleted)
	check.Equal(t, 0, res.FailedListings)

	c1, _ := w.store.Cycle("c1")
	check.Equal(t, domain.CycleResolved, c1.Status)
	check.Equal(t, 1, c1.Stats.ContestedListings)
	check.Equal(t, int64(120), c1.Stats.TotalValueTraded)
	check.Equal(t, 2, c1.Stats.OrdersProcessed)

	next, ok := w.store.Cycle(res.NextCycleID)
	check.True(t, ok)
	check.Equal(t, domain.CycleOpen, next.Status)
	check.Equal(t, int64(2), next.CycleNumber)
	check.Equal(t, t0, next.StartedAt)

	check.Equal(t, int64(114), w.store.Balance("seller").AvailableGold)
	check.Equal(t, domain.Balance{ParticipantID: "bob", AvailableGold: 100}, w.store.Balance("bob"))
	check.Equal(t, []string{"cycle_resolved"}, auditEvents(t, w))
}

func TestResolveCycle_WinnerAffiliations(t *testing.T) {
	w, _, _, _ := exampleWorld()
	w.participant("alice", "merchant", 0, 30, 120)
	m := w.manager(w.deps(), ManagerConfig{})

	_, err := m.ResolveCycle(context.Background(), "m1")
	assert.NoError(t, err)

	c1, _ := w.store.Cycle("c1")
	check.Equal(t, map[string]int{"merchant": 1}, c1.Stats.WinnerAffiliations)
}

func TestResolveCycle_NoOpenCycle(t *testing.T) {
	w := newWorld()
	w.store.PutMarket(domain.Market{ID: "m2"})
	m := w.manager(w.deps(), ManagerConfig{})

	res, err := m.ResolveCycle(context.Background(), "m2")
	check.NoError(t, err)
	check.Equal(t, Result{}, res)
}

func TestResolveCycle_ClaimedByAnotherResolver(t *testing.T) {
	w, _, _, _ := exampleWorld()
	w.store.FailNext("BeginProcessing", domain.ErrCycleBusy)
	m := w.manager(w.deps(), ManagerConfig{})

	res, err := m.ResolveCycle(context.Background(), "m1")
	check.NoError(t, err)
	check.Equal(t, Result{}, res)

	l, _ := w.store.Listing("l1")
	check.Equal(t, domain.ListingActive, l.Status)
	check.Equal(t, 0, len(w.store.AllTransactions()))
}

func TestResolveCycle_LockHeld(t *testing.T) {
	w, _, _, _ := exampleWorld()
	deps := w.deps()
	deps.Locks = heldLocks{}
	m := w.manager(deps, ManagerConfig{})

	res, err := m.ResolveCycle(context.Background(), "m1")
	check.NoError(t, err)
	check.Equal(t, Result{}, res)

	c1, _ := w.store.Cycle("c1")
	check.Equal(t, domain.CycleOpen, c1.Status)
}

func TestResolveCycle_LockReleased(t *testing.T) {
	w, _, _, _ := exampleWorld()
	locks := &localLocks{}
	deps := w.deps()
	deps.Locks = locks
	m := w.manager(deps, ManagerConfig{})

	_, err := m.ResolveCycle(context.Background(), "m1")
	assert.NoError(t, err)

	check.Equal(t, []string{"cycle:m1"}, locks.seen)
	check.Equal(t, 0, len(locks.held))
}

func TestResolveCycle_YoungCycleIsNoOp(t *testing.T) {
	w, _, _, _ := exampleWorld()
	m := w.manager(w.deps(), ManagerConfig{CycleDuration: 3 * time.Hour})

	res, err := m.ResolveCycle(context.Background(), "m1")
	check.NoError(t, err)
	check.Equal(t, Result{}, res)

	c1, _ := w.store.Cycle("c1")
	check.Equal(t, domain.CycleOpen, c1.Status)
	check.True(t, c1.ProcessingAt == nil)
	l, _ := w.store.Listing("l1")
	check.Equal(t, domain.ListingActive, l.Status)
}

func TestResolveCycle_NextCycleWaitsForDuration(t *testing.T) {
	ctx := context.Background()
	w, _, _, _ := exampleWorld()
	m := w.manager(w.deps(), ManagerConfig{CycleDuration: time.Hour})

	first, err := m.ResolveCycle(ctx, "m1")
	assert.NoError(t, err)
	check.Equal(t, "c1", first.CycleID)

	// Demand arrives in the cycle that was just opened at t0.
	w.participant("dave", "", 0, 0, 70)
	w.listing("l2", "seller", "wool", 1, 50)
	w.order("od", "l2", "dave", 70, -10*time.Minute)

	res, err := m.ResolveCycle(ctx, "m1")
	check.NoError(t, err)
	check.Equal(t, Result{}, res)

	next, ok := w.store.Cycle(first.NextCycleID)
	assert.True(t, ok)
	check.Equal(t, int64(2), next.CycleNumber)
	check.Equal(t, domain.CycleOpen, next.Status)
	l2, _ := w.store.Listing("l2")
	check.Equal(t, domain.ListingActive, l2.Status)
	check.Equal(t, int64(70), w.store.Balance("dave").EscrowedGold)

	m.now = func() time.Time { return t0.Add(time.Hour) }
	res, err = m.ResolveCycle(ctx, "m1")
	assert.NoError(t, err)
	check.Equal(t, first.NextCycleID, res.CycleID)
	check.Equal(t, 1, res.TransactionsCompleted)
	l2, _ = w.store.Listing("l2")
	check.Equal(t, domain.ListingSold, l2.Status)
}

func TestResolveCycle_StoreReportsNotDue(t *testing.T) {
	w, _, _, _ := exampleWorld()
	w.store.FailNext("BeginProcessing", domain.ErrCycleNotDue)
	m := w.manager(w.deps(), ManagerConfig{CycleDuration: time.Hour})

	res, err := m.ResolveCycle(context.Background(), "m1")
	check.NoError(t, err)
	check.Equal(t, Result{}, res)
	check.Equal(t, 0, len(w.store.AllTransactions()))
}

// twoListingWorld adds a second listing to the example market.
func twoListingWorld() *world {
	w, _, _, _ := exampleWorld()
	w.participant("dave", "", 0, 0, 70)
	w.listing("l2", "seller", "wool", 1, 50)
	w.order("od", "l2", "dave", 70, 10*time.Minute)
	return w
}

func TestResolveCycle_TransientFailureRevertsAndRetrySkipsSold(t *testing.T) {
	ctx := context.Background()
	w := twoListingWorld()
	// l1 settles, l2 fails.
	w.store.FailNext("InsertTransaction", nil)
	w.store.FailNext("InsertTransaction", errTransient)

	alerts := &recordingAlerter{}
	deps := w.deps()
	deps.Alerter = alerts
	m := w.manager(deps, ManagerConfig{})

	res, err := m.ResolveCycle(ctx, "m1")
	check.True(t, errors.Is(err, errTransient))
	check.Equal(t, Result{}, res)

	c1, _ := w.store.Cycle("c1")
	check.Equal(t, domain.CycleOpen, c1.Status)
	check.True(t, c1.ProcessingAt == nil)
	l1, _ := w.store.Listing("l1")
	check.Equal(t, domain.ListingSold, l1.Status)
	l2, _ := w.store.Listing("l2")
	check.Equal(t, domain.ListingActive, l2.Status)
	check.Equal(t, 1, alerts.count(EventCycleFailed))
	check.Equal(t, []string{"cycle_reverted"}, auditEvents(t, w))

	// The retry settles only what is left.
	res, err = m.ResolveCycle(ctx, "m1")
	assert.NoError(t, err)
	check.Equal(t, 1, res.TransactionsCompleted)
	check.Equal(t, 1, res.OrdersProcessed)

	txs := w.store.AllTransactions()
	check.Equal(t, 2, len(txs))
	check.Equal(t, "l1", txs[0].ListingID)
	check.Equal(t, "l2", txs[1].ListingID)
	check.Equal(t, int64(114+67), w.store.Balance("seller").AvailableGold)

	c1, _ = w.store.Cycle("c1")
	check.Equal(t, domain.CycleResolved, c1.Status)
}

func TestResolveCycle_InvariantAbortsListingOnly(t *testing.T) {
	w := twoListingWorld()
	w.store.PutBalance(domain.Balance{ParticipantID: "dave", EscrowedGold: 10})

	alerts := &recordingAlerter{}
	deps := w.deps()
	deps.Alerter = alerts
	m := w.manager(deps, ManagerConfig{})

	res, err := m.ResolveCycle(context.Background(), "m1")
	assert.NoError(t, err)

	check.Equal(t, 1, res.TransactionsCompleted)
	check.Equal(t, 1, res.FailedListings)
	check.Equal(t, 3, res.OrdersProcessed)
	check.Equal(t, 1, alerts.count(EventIntegrity))

	c1, _ := w.store.Cycle("c1")
	check.Equal(t, domain.CycleResolved, c1.Status)
	check.Equal(t, 1, c1.Stats.FailedListings)

	l2, _ := w.store.Listing("l2")
	check.Equal(t, domain.ListingActive, l2.Status)
	od, _ := w.store.Order("od")
	check.Equal(t, domain.OrderPending, od.Status)
	check.Equal(t, []string{"integrity_warning", "cycle_resolved"}, auditEvents(t, w))
}

func TestResolveCycle_TaxLookupFailureReverts(t *testing.T) {
	w, _, _, _ := exampleWorld()
	w.store.FailNext("EffectiveTaxRate", errTransient)
	m := w.manager(w.deps(), ManagerConfig{})

	_, err := m.ResolveCycle(context.Background(), "m1")
	check.True(t, errors.Is(err, errTransient))

	c1, _ := w.store.Cycle("c1")
	check.Equal(t, domain.CycleOpen, c1.Status)
	check.Equal(t, 0, len(w.store.AllTransactions()))
}

func TestResolveCycle_RestrictedBuyerRefunded(t *testing.T) {
	w, _, _, _ := exampleWorld()
	w.store.Embargo("m1", "alice")
	m := w.manager(w.deps(), ManagerConfig{})

	res, err := m.ResolveCycle(context.Background(), "m1")
	assert.NoError(t, err)
	check.Equal(t, 1, res.TransactionsCompleted)

	txs := w.store.AllTransactions()
	check.Equal(t, "ob", txs[0].WinningOrderID)
	check.Equal(t, domain.BasisAuto, txs[0].Ranking[0].Basis)

	oa, _ := w.store.Order("oa")
	check.Equal(t, domain.BasisRestricted, oa.Basis)
	check.Equal(t, domain.Balance{ParticipantID: "alice", AvailableGold: 150}, w.store.Balance("alice"))
}

func TestResolveCycle_AllBuyersRestricted(t *testing.T) {
	w, _, _, _ := exampleWorld()
	w.store.Embargo("m1", "alice")
	w.store.Embargo("m1", "bob")
	m := w.manager(w.deps(), ManagerConfig{})

	res, err := m.ResolveCycle(context.Background(), "m1")
	assert.NoError(t, err)
	check.Equal(t, 0, res.TransactionsCompleted)
	check.Equal(t, 2, res.OrdersProcessed)

	l1, _ := w.store.Listing("l1")
	check.Equal(t, domain.ListingActive, l1.Status)
	check.Equal(t, 0, len(w.store.AllTransactions()))
	check.Equal(t, int64(100), w.store.Balance("bob").AvailableGold)
}

func TestResolveCycle_SideEffectFailuresAreSwallowed(t *testing.T) {
	w, _, _, _ := exampleWorld()
	emitter := &recordingEmitter{err: errors.New("bus down")}
	hook := &recordingHook{panics: true}
	deps := w.deps()
	deps.Emitter = emitter
	deps.Hooks = []domain.SettlementHook{hook}
	m := w.manager(deps, ManagerConfig{})

	res, err := m.ResolveCycle(context.Background(), "m1")
	assert.NoError(t, err)
	m.Wait()

	check.Equal(t, 1, res.TransactionsCompleted)
	check.Equal(t, 1, len(emitter.events))
	check.Equal(t, "alice", emitter.events[0].BuyerID)
	check.Equal(t, int64(120), emitter.events[0].Price)
	check.Equal(t, 1, len(hook.records))
	check.Equal(t, 1, len(w.store.AllTransactions()))
}

func TestResolveCycle_RollIsReplayable(t *testing.T) {
	w := newWorld()
	w.participant("seller", "", 0, 0, 0)
	w.participant("alice", "", 0, 0, 100)
	w.participant("bob", "", 0, 0, 101)
	l := w.listing("l1", "seller", "silk", 1, 100)
	a := w.order("oa", "l1", "alice", 100, 20*time.Minute)
	b := w.order("ob", "l1", "bob", 101, 10*time.Minute)

	secret := []byte("audit-me")
	m := w.manager(w.deps(), ManagerConfig{RollSecret: secret})

	_, err := m.ResolveCycle(context.Background(), "m1")
	assert.NoError(t, err)

	rec := w.store.AllTransactions()[0]
	check.True(t, rec.RollSeed != "")
	for _, e := range rec.Ranking {
		check.Equal(t, domain.BasisRoll, e.Basis)
		check.NotNil(t, e.Roll)
	}

	seed, err := RollSeed(secret, "c1", "l1", []string{"ob", "oa"})
	assert.NoError(t, err)
	check.Equal(t, EncodeSeed(seed), rec.RollSeed)

	replay := rankOrders(t, l, NewSeededSource(seed), a, b)
	check.Equal(t, replay.Winner().Order.ID, rec.WinningOrderID)
	check.Equal(t, *replay.Winner().Roll, *rec.Ranking[0].Roll)
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCycleLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	s.PutMarket(domain.Market{ID: "m1"})
	cycles := s.Cycles()

	first, err := cycles.Open(ctx, "m1", t0)
	assert.NoError(t, err)
	check.Equal(t, int64(1), first.CycleNumber)

	_, err = cycles.Open(ctx, "m1", t0)
	check.True(t, errors.Is(err, domain.ErrAlreadyExists))
	_, err = cycles.Open(ctx, "nope", t0)
	check.True(t, errors.Is(err, domain.ErrNotFound))

	err = cycles.BeginProcessing(ctx, first.ID, t0.Add(time.Minute), t0.Add(-time.Second))
	check.True(t, errors.Is(err, domain.ErrCycleNotDue))
	still, err := cycles.GetOpen(ctx, "m1")
	assert.NoError(t, err)
	check.Equal(t, first.ID, still.ID)

	assert.NoError(t, cycles.BeginProcessing(ctx, first.ID, t0.Add(time.Minute), t0))
	check.True(t, errors.Is(cycles.BeginProcessing(ctx, first.ID, t0, t0), domain.ErrCycleBusy))
	_, err = cycles.GetOpen(ctx, "m1")
	check.True(t, errors.Is(err, domain.ErrNotFound))

	next, err := cycles.Resolve(ctx, first.ID, domain.CycleStats{}, t0.Add(2*time.Minute))
	assert.NoError(t, err)
	check.Equal(t, int64(2), next.CycleNumber)
	check.Equal(t, domain.CycleOpen, next.Status)

	got, ok := s.Cycle(first.ID)
	assert.True(t, ok)
	check.Equal(t, domain.CycleResolved, got.Status)
}

func TestRevertStuck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	s.PutMarket(domain.Market{ID: "m1"})
	s.PutMarket(domain.Market{ID: "m2"})
	c1, _ := s.Cycles().Open(ctx, "m1", t0)
	c2, _ := s.Cycles().Open(ctx, "m2", t0)
	assert.NoError(t, s.Cycles().BeginProcessing(ctx, c1.ID, t0, t0))
	assert.NoError(t, s.Cycles().BeginProcessing(ctx, c2.ID, t0.Add(time.Hour), t0))

	reverted, err := s.Cycles().RevertStuck(ctx, t0.Add(30*time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(reverted))
	check.Equal(t, "m1", reverted[0].MarketID)
	check.Equal(t, domain.CycleOpen, reverted[0].Status)
	check.Nil(t, reverted[0].ProcessingAt)
}

func TestListDueMarketsNeedsPendingOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	for _, id := range []string{"m1", "m2", "m3"} {
		s.PutMarket(domain.Market{ID: id})
		_, err := s.Cycles().Open(ctx, id, t0)
		assert.NoError(t, err)
	}
	s.PutListing(domain.Listing{ID: "l1", MarketID: "m1"})
	s.PutOrder(domain.BuyOrder{ID: "o1", ListingID: "l1"})
	s.PutListing(domain.Listing{ID: "l2", MarketID: "m2", Status: domain.ListingSold})
	s.PutOrder(domain.BuyOrder{ID: "o2", ListingID: "l2"})

	due, err := s.Cycles().ListDueMarkets(ctx, t0)
	assert.NoError(t, err)
	check.Equal(t, []string{"m1"}, due)

	due, err = s.Cycles().ListDueMarkets(ctx, t0.Add(-time.Second))
	assert.NoError(t, err)
	check.Equal(t, 0, len(due))
}

func TestSettlementTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New()
	s.PutMarket(domain.Market{ID: "m1"})
	s.PutParticipant(domain.BuyerAttributes{ParticipantID: "b1"}, 100, 50)

	boom := errors.New("boom")
	err := s.Settlements().WithSettlementTx(ctx, func(ctx context.Context, tx domain.SettlementTx) error {
		assert.NoError(t, tx.AdjustBalance(ctx, "b1", 10, -50))
		assert.NoError(t, tx.DepositTreasury(ctx, "m1", 5))
		return boom
	})
	check.True(t, errors.Is(err, boom))
	check.Equal(t, domain.Balance{ParticipantID: "b1", AvailableGold: 100, EscrowedGold: 50}, s.Balance("b1"))
	check.Equal(t, int64(0), s.Treasury("m1"))

	err = s.Settlements().WithSettlementTx(ctx, func(ctx context.Context, tx domain.SettlementTx) error {
		return tx.DepositTreasury(ctx, "m1", 5)
	})
	assert.NoError(t, err)
	check.Equal(t, int64(5), s.Treasury("m1"))
}

func TestAdjustBalanceRejectsNegative(t *testing.T) {
	t.Parallel()
	s := New()
	s.PutParticipant(domain.BuyerAttributes{ParticipantID: "b1"}, 0, 10)
	err := s.Settlements().WithSettlementTx(context.Background(), func(ctx context.Context, tx domain.SettlementTx) error {
		return tx.AdjustBalance(ctx, "b1", 0, -11)
	})
	check.True(t, errors.Is(err, domain.ErrInsufficientEscrow))
}

func TestFailNextQueues(t *testing.T) {
	t.Parallel()
	s := New()
	e1, e2 := errors.New("one"), errors.New("two")
	s.FailNext("ListMarketsWithoutCycle", e1)
	s.FailNext("ListMarketsWithoutCycle", e2)
	ctx := context.Background()

	_, err := s.Cycles().ListMarketsWithoutCycle(ctx)
	check.True(t, errors.Is(err, e1))
	_, err = s.Cycles().ListMarketsWithoutCycle(ctx)
	check.True(t, errors.Is(err, e2))
	_, err = s.Cycles().ListMarketsWithoutCycle(ctx)
	check.NoError(t, err)
}

func TestAuditListFiltersByEventPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	audit := New().Audit()
	for _, ev := range []string{"cycle.resolved", "archive.transactions", "cycle.reverted"} {
		assert.NoError(t, audit.Log(ctx, ev, nil))
	}

	entries, err := audit.List(ctx, domain.AuditQuery{EventPrefix: "cycle."})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(entries))
	check.Equal(t, "cycle.reverted", entries[0].Event)
	check.Equal(t, "cycle.resolved", entries[1].Event)

	entries, err = audit.List(ctx, domain.AuditQuery{ListOpts: domain.ListOpts{Limit: 1, Offset: 1}})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))
	check.Equal(t, "archive.transactions", entries[0].Event)
}

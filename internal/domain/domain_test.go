package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestCycleStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to CycleStatus
		want     bool
	}{
		{CycleOpen, CycleProcessing, true},
		{CycleOpen, CycleResolved, false},
		{CycleOpen, CycleOpen, false},
		{CycleProcessing, CycleResolved, true},
		{CycleProcessing, CycleOpen, true},
		{CycleProcessing, CycleProcessing, false},
		{CycleResolved, CycleOpen, false},
		{CycleResolved, CycleProcessing, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			check.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestAuctionCycle_Due(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := AuctionCycle{Status: CycleOpen, StartedAt: start}

	check.False(t, c.Due(start.Add(59*time.Minute), time.Hour))
	check.True(t, c.Due(start.Add(time.Hour), time.Hour))

	c.Status = CycleProcessing
	check.False(t, c.Due(start.Add(2*time.Hour), time.Hour))
}

func TestPriceHistory_Apply(t *testing.T) {
	var h PriceHistory

	h = h.Apply(decimal.NewFromInt(10), 2)
	check.Equal(t, 10.0, h.AvgPrice)
	check.Equal(t, int64(2), h.Volume)

	h = h.Apply(decimal.NewFromInt(20), 3)
	check.Equal(t, 16.0, h.AvgPrice)
	check.Equal(t, int64(5), h.Volume)

	// Zero quantity is a no-op.
	check.Equal(t, h, h.Apply(decimal.NewFromInt(999), 0))
}

func TestPriceHistory_ApplyFractionalPrice(t *testing.T) {
	h := PriceHistory{}.Apply(decimal.NewFromInt(100).Div(decimal.NewFromInt(3)), 3)
	check.Equal(t, int64(3), h.Volume)
	check.True(t, h.AvgPrice > 33.33 && h.AvgPrice < 33.34)
}

func TestDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	in := time.Date(2026, 5, 2, 3, 30, 0, 0, loc)
	check.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), Day(in))
}

func TestInvariantError(t *testing.T) {
	err := fmt.Errorf("settle: %w", &InvariantError{ListingID: "l1", OrderID: "o1", Err: ErrInsufficientEscrow})

	check.True(t, IsInvariant(err))
	check.True(t, errors.Is(err, ErrInsufficientEscrow))
	check.False(t, errors.Is(err, ErrNotFound))
	check.Equal(t, "settle: invariant: listing l1 order o1: insufficient escrow", err.Error())

	check.False(t, IsInvariant(ErrInsufficientEscrow))
}

func TestNewTradeEvent(t *testing.T) {
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	evt := NewTradeEvent(TransactionRecord{
		ID: "t1", MarketID: "m1", CycleID: "c1", BuyerID: "b", SellerID: "s",
		ItemName: "Iron Ore", Quantity: 3, Price: 120, CreatedAt: at,
	})
	check.Equal(t, TradeEvent{
		TransactionID: "t1", MarketID: "m1", CycleID: "c1", BuyerID: "b", SellerID: "s",
		ItemName: "Iron Ore", Quantity: 3, Price: 120, At: at,
	}, evt)
}

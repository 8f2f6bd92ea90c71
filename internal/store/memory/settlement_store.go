package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// SettlementStore implements domain.SettlementStore.
type SettlementStore struct {
	s *Store
}

// Settlements returns the store's domain.SettlementStore view.
func (s *Store) Settlements() *SettlementStore {
	return &SettlementStore{s: s}
}

// WithSettlementTx runs fn against a private copy of the state while holding
// the store lock. The copy replaces the live state only if fn succeeds.
func (ss *SettlementStore) WithSettlementTx(ctx context.Context, fn func(ctx context.Context, tx domain.SettlementTx) error) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if err := ss.s.fault("WithSettlementTx"); err != nil {
		return err
	}

	tx := &settlementTx{s: ss.s, st: ss.s.st.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ss.s.st = tx.st
	return nil
}

// settlementTx operates on a cloned state. The store lock is held by
// WithSettlementTx for its whole lifetime.
type settlementTx struct {
	s  *Store
	st *state
}

func (tx *settlementTx) LockListing(_ context.Context, listingID string) (domain.Listing, error) {
	if err := tx.s.fault("LockListing"); err != nil {
		return domain.Listing{}, err
	}
	l, ok := tx.st.listings[listingID]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (tx *settlementTx) LockBalance(_ context.Context, participantID string) (domain.Balance, error) {
	if err := tx.s.fault("LockBalance"); err != nil {
		return domain.Balance{}, err
	}
	b, ok := tx.st.balances[participantID]
	if !ok {
		return domain.Balance{}, domain.ErrNotFound
	}
	return b, nil
}

func (tx *settlementTx) PendingOrders(_ context.Context, listingID string) ([]domain.BuyOrder, error) {
	if err := tx.s.fault("PendingOrders"); err != nil {
		return nil, err
	}
	var out []domain.BuyOrder
	for _, o := range tx.st.orders {
		if o.ListingID == listingID && o.Status == domain.OrderPending {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (tx *settlementTx) ResolveOrder(_ context.Context, order domain.BuyOrder) error {
	if err := tx.s.fault("ResolveOrder"); err != nil {
		return err
	}
	cur, ok := tx.st.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != domain.OrderPending {
		return domain.ErrOrderNotPending
	}
	cur.Status = order.Status
	cur.CycleID = order.CycleID
	cur.PriorityScore = order.PriorityScore
	cur.Roll = order.Roll
	cur.Basis = order.Basis
	cur.ResolvedAt = order.ResolvedAt
	tx.st.orders[order.ID] = cur
	return nil
}

func (tx *settlementTx) AdjustBalance(_ context.Context, participantID string, availableDelta, escrowDelta int64) error {
	if err := tx.s.fault("AdjustBalance"); err != nil {
		return err
	}
	b, ok := tx.st.balances[participantID]
	if !ok {
		return domain.ErrNotFound
	}
	b.AvailableGold += availableDelta
	b.EscrowedGold += escrowDelta
	if b.AvailableGold < 0 || b.EscrowedGold < 0 {
		return fmt.Errorf("memory: balance %s would go negative: %w", participantID, domain.ErrInsufficientEscrow)
	}
	tx.st.balances[participantID] = b
	return nil
}

func (tx *settlementTx) MarkListingSold(_ context.Context, listingID string, price int64, at time.Time) error {
	if err := tx.s.fault("MarkListingSold"); err != nil {
		return err
	}
	l, ok := tx.st.listings[listingID]
	if !ok {
		return domain.ErrNotFound
	}
	if l.Status != domain.ListingActive {
		return domain.ErrListingNotActive
	}
	l.Status = domain.ListingSold
	l.SoldPrice = &price
	l.SoldAt = &at
	tx.st.listings[listingID] = l
	return nil
}

func (tx *settlementTx) AddHolding(_ context.Context, ownerID, itemRef string, quantity int64) error {
	if err := tx.s.fault("AddHolding"); err != nil {
		return err
	}
	tx.st.holdings[holdingKey{ownerID, itemRef}] += quantity
	return nil
}

func (tx *settlementTx) DepositTreasury(_ context.Context, marketID string, amount int64) error {
	if err := tx.s.fault("DepositTreasury"); err != nil {
		return err
	}
	m, ok := tx.st.markets[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	m.TreasuryGold += amount
	tx.st.markets[marketID] = m
	return nil
}

func (tx *settlementTx) LockPriceHistory(_ context.Context, itemRef, marketID string, day time.Time) (domain.PriceHistory, error) {
	if err := tx.s.fault("LockPriceHistory"); err != nil {
		return domain.PriceHistory{}, err
	}
	day = domain.Day(day)
	if h, ok := tx.st.prices[priceKey{itemRef, marketID, day}]; ok {
		return h, nil
	}
	return domain.PriceHistory{ItemRef: itemRef, MarketID: marketID, Day: day}, nil
}

func (tx *settlementTx) SavePriceHistory(_ context.Context, h domain.PriceHistory) error {
	if err := tx.s.fault("SavePriceHistory"); err != nil {
		return err
	}
	h.Day = domain.Day(h.Day)
	tx.st.prices[priceKey{h.ItemRef, h.MarketID, h.Day}] = h
	return nil
}

func (tx *settlementTx) InsertTransaction(_ context.Context, rec domain.TransactionRecord) error {
	if err := tx.s.fault("InsertTransaction"); err != nil {
		return err
	}
	for _, existing := range tx.st.transactions {
		if existing.ListingID == rec.ListingID {
			return domain.ErrAlreadyExists
		}
	}
	tx.st.transactions = append(tx.st.transactions, rec)
	return nil
}

var (
	_ domain.SettlementStore = (*SettlementStore)(nil)
	_ domain.SettlementTx    = (*settlementTx)(nil)
)

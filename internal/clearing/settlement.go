package clearing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettleRequest is everything needed to settle one listing.
type SettleRequest struct {
	CycleID string
	Listing domain.Listing
	Ranking Ranking
	// Rejected orders are refunded with basis restricted.
	Rejected []domain.BuyOrder
	Seller   domain.BuyerAttributes
	TaxRate  float64
	RollSeed []byte
}

// Settler performs the atomic settlement of a listing.
type Settler struct {
	store  domain.SettlementStore
	fees   FeeSchedule
	now    func() time.Time
	logger *slog.Logger
}

// NewSettler creates a Settler.
func NewSettler(store domain.SettlementStore, fees FeeSchedule, logger *slog.Logger) *Settler {
	return &Settler{
		store:  store,
		fees:   fees,
		now:    time.Now,
		logger: logger.With(slog.String("component", "settler")),
	}
}

// Settle transfers the item to the ranking winner, pays the seller, deposits
// tax, refunds every other pending order on the listing and records the
// transaction, all in one store transaction. It returns ErrListingNotActive
// (wrapped) when the listing was already settled, and an *InvariantError when
// the ledger is inconsistent; in both cases nothing is written.
func (s *Settler) Settle(ctx context.Context, req SettleRequest) (domain.TransactionRecord, error) {
	if len(req.Ranking.Orders) == 0 {
		return domain.TransactionRecord{}, fmt.Errorf("settle %s: %w", req.Listing.ID, domain.ErrNoOrders)
	}

	var rec domain.TransactionRecord
	err := s.store.WithSettlementTx(ctx, func(ctx context.Context, tx domain.SettlementTx) error {
		at := s.now().UTC()

		listing, err := tx.LockListing(ctx, req.Listing.ID)
		if err != nil {
			return fmt.Errorf("lock listing: %w", err)
		}
		if listing.Status != domain.ListingActive {
			return fmt.Errorf("listing %s is %s: %w", listing.ID, listing.Status, domain.ErrListingNotActive)
		}
		if listing.Quantity <= 0 {
			return &domain.InvariantError{ListingID: listing.ID, Err: fmt.Errorf("non-positive quantity %d", listing.Quantity)}
		}

		late, err := s.lateOrders(ctx, tx, listing.ID, req)
		if err != nil {
			return err
		}

		releases := make([]domain.BuyOrder, 0, len(req.Ranking.Orders)+len(req.Rejected)+len(late))
		for _, r := range req.Ranking.Orders {
			releases = append(releases, r.Order)
		}
		releases = append(releases, req.Rejected...)
		releases = append(releases, late...)

		if err := lockAndCheckEscrow(ctx, tx, listing.ID, listing.SellerID, releases); err != nil {
			return err
		}

		winner := req.Ranking.Winner()
		price := winner.Order.BidPrice
		feeRate := s.fees.RateFor(req.Seller)
		taxRate := ClampTaxRate(req.TaxRate)
		fee := FloorPortion(price, feeRate)
		tax := FloorPortion(price, taxRate)

		won := resolvedOrder(winner, domain.OrderWon, req.CycleID, at)
		if err := resolve(ctx, tx, listing.ID, won); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, won.BuyerID, 0, -price); err != nil {
			return fmt.Errorf("debit winner escrow: %w", err)
		}
		if err := tx.AdjustBalance(ctx, listing.SellerID, price-fee, 0); err != nil {
			return fmt.Errorf("credit seller: %w", err)
		}
		if tax > 0 {
			if err := tx.DepositTreasury(ctx, listing.MarketID, tax); err != nil {
				return fmt.Errorf("deposit tax: %w", err)
			}
		}
		if err := tx.AddHolding(ctx, won.BuyerID, listing.ItemRef, listing.Quantity); err != nil {
			return fmt.Errorf("transfer item: %w", err)
		}
		if err := tx.MarkListingSold(ctx, listing.ID, price, at); err != nil {
			return fmt.Errorf("mark sold: %w", err)
		}

		ranking := make([]domain.RankingEntry, 0, len(releases))
		ranking = append(ranking, rankingEntry(1, won))
		for i, r := range req.Ranking.Losers() {
			lost := resolvedOrder(r, domain.OrderLost, req.CycleID, at)
			if err := refund(ctx, tx, listing.ID, lost); err != nil {
				return err
			}
			ranking = append(ranking, rankingEntry(i+2, lost))
		}
		for _, o := range req.Rejected {
			lost := rejectedOrder(o, domain.BasisRestricted, req.CycleID, at)
			if err := refund(ctx, tx, listing.ID, lost); err != nil {
				return err
			}
			ranking = append(ranking, rankingEntry(0, lost))
		}
		for _, o := range late {
			lost := rejectedOrder(o, domain.BasisLate, req.CycleID, at)
			if err := refund(ctx, tx, listing.ID, lost); err != nil {
				return err
			}
			ranking = append(ranking, rankingEntry(0, lost))
		}

		day := domain.Day(at)
		hist, err := tx.LockPriceHistory(ctx, listing.ItemRef, listing.MarketID, day)
		if err != nil {
			return fmt.Errorf("lock price history: %w", err)
		}
		if err := tx.SavePriceHistory(ctx, hist.Apply(decimal.NewFromInt(price), listing.Quantity)); err != nil {
			return fmt.Errorf("save price history: %w", err)
		}

		rec = domain.TransactionRecord{
			ID:             uuid.NewString(),
			MarketID:       listing.MarketID,
			CycleID:        req.CycleID,
			ListingID:      listing.ID,
			WinningOrderID: won.ID,
			BuyerID:        won.BuyerID,
			SellerID:       listing.SellerID,
			ItemRef:        listing.ItemRef,
			ItemName:       listing.ItemName,
			Quantity:       listing.Quantity,
			AskPrice:       listing.AskPrice,
			Price:          price,
			Fee:            fee,
			FeeRate:        feeRate,
			Tax:            tax,
			TaxRate:        taxRate,
			SellerNet:      price - fee,
			BidderCount:    len(req.Ranking.Orders),
			Contested:      len(req.Ranking.Orders) > 1,
			Ranking:        ranking,
			CreatedAt:      at,
		}
		if req.Ranking.Pooled > 0 && len(req.RollSeed) > 0 {
			rec.RollSeed = EncodeSeed(req.RollSeed)
		}
		if err := tx.InsertTransaction(ctx, rec); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("settle %s: %w", req.Listing.ID, err)
	}

	s.logger.Debug("listing settled",
		slog.String("listing_id", rec.ListingID),
		slog.String("transaction_id", rec.ID),
		slog.Int64("price", rec.Price),
		slog.Int("bidders", rec.BidderCount),
	)
	return rec, nil
}

// Reject marks orders lost with the given basis and refunds their escrow
// without selling the listing. The listing stays active.
func (s *Settler) Reject(ctx context.Context, cycleID, listingID string, orders []domain.BuyOrder, basis domain.ResolutionBasis) error {
	if len(orders) == 0 {
		return nil
	}
	err := s.store.WithSettlementTx(ctx, func(ctx context.Context, tx domain.SettlementTx) error {
		at := s.now().UTC()
		listing, err := tx.LockListing(ctx, listingID)
		if err != nil {
			return fmt.Errorf("lock listing: %w", err)
		}
		if listing.Status != domain.ListingActive {
			return fmt.Errorf("listing %s is %s: %w", listing.ID, listing.Status, domain.ErrListingNotActive)
		}
		if err := lockAndCheckEscrow(ctx, tx, listingID, "", orders); err != nil {
			return err
		}
		for _, o := range orders {
			if err := refund(ctx, tx, listingID, rejectedOrder(o, basis, cycleID, at)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reject orders on %s: %w", listingID, err)
	}
	return nil
}

// lateOrders returns pending orders on the listing that are neither ranked
// nor rejected, and fails if a ranked or rejected order is no longer pending.
func (s *Settler) lateOrders(ctx context.Context, tx domain.SettlementTx, listingID string, req SettleRequest) ([]domain.BuyOrder, error) {
	pending, err := tx.PendingOrders(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("pending orders: %w", err)
	}
	known := make(map[string]bool, len(req.Ranking.Orders)+len(req.Rejected))
	for _, r := range req.Ranking.Orders {
		known[r.Order.ID] = true
	}
	for _, o := range req.Rejected {
		known[o.ID] = true
	}

	var late []domain.BuyOrder
	seen := 0
	for _, o := range pending {
		if known[o.ID] {
			seen++
			continue
		}
		late = append(late, o)
	}
	if seen != len(known) {
		return nil, &domain.InvariantError{
			ListingID: listingID,
			Err:       fmt.Errorf("%d of %d ranked orders no longer pending: %w", len(known)-seen, len(known), domain.ErrOrderNotPending),
		}
	}
	return late, nil
}

// lockAndCheckEscrow locks the balance rows of every participant in sorted
// order, then verifies each buyer's escrow covers the bids being released.
func lockAndCheckEscrow(ctx context.Context, tx domain.SettlementTx, listingID, sellerID string, orders []domain.BuyOrder) error {
	owed := make(map[string]int64, len(orders))
	for _, o := range orders {
		owed[o.BuyerID] += o.BidPrice
	}
	ids := make([]string, 0, len(owed)+1)
	for id := range owed {
		ids = append(ids, id)
	}
	if _, ok := owed[sellerID]; sellerID != "" && !ok {
		ids = append(ids, sellerID)
	}
	sort.Strings(ids)

	for _, id := range ids {
		bal, err := tx.LockBalance(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.InvariantError{ListingID: listingID, Err: fmt.Errorf("no balance for %s: %w", id, err)}
			}
			return fmt.Errorf("lock balance %s: %w", id, err)
		}
		if need := owed[id]; bal.EscrowedGold < need {
			return &domain.InvariantError{
				ListingID: listingID,
				Err:       fmt.Errorf("%s escrow %d < %d: %w", id, bal.EscrowedGold, need, domain.ErrInsufficientEscrow),
			}
		}
	}
	return nil
}

func resolve(ctx context.Context, tx domain.SettlementTx, listingID string, o domain.BuyOrder) error {
	if err := tx.ResolveOrder(ctx, o); err != nil {
		if errors.Is(err, domain.ErrOrderNotPending) {
			return &domain.InvariantError{ListingID: listingID, OrderID: o.ID, Err: err}
		}
		return fmt.Errorf("resolve order %s: %w", o.ID, err)
	}
	return nil
}

func refund(ctx context.Context, tx domain.SettlementTx, listingID string, o domain.BuyOrder) error {
	if err := resolve(ctx, tx, listingID, o); err != nil {
		return err
	}
	if err := tx.AdjustBalance(ctx, o.BuyerID, o.BidPrice, -o.BidPrice); err != nil {
		return fmt.Errorf("refund order %s: %w", o.ID, err)
	}
	return nil
}

func resolvedOrder(r Ranked, status domain.OrderStatus, cycleID string, at time.Time) domain.BuyOrder {
	o := r.Order
	score := r.Score
	o.Status = status
	o.CycleID = cycleID
	o.PriorityScore = &score
	o.Roll = r.Roll
	o.Basis = r.Basis
	o.ResolvedAt = &at
	return o
}

func rejectedOrder(o domain.BuyOrder, basis domain.ResolutionBasis, cycleID string, at time.Time) domain.BuyOrder {
	o.Status = domain.OrderLost
	o.CycleID = cycleID
	o.PriorityScore = nil
	o.Roll = nil
	o.Basis = basis
	o.ResolvedAt = &at
	return o
}

func rankingEntry(rank int, o domain.BuyOrder) domain.RankingEntry {
	e := domain.RankingEntry{
		Rank:     rank,
		OrderID:  o.ID,
		BuyerID:  o.BuyerID,
		BidPrice: o.BidPrice,
		PlacedAt: o.PlacedAt,
		Basis:    o.Basis,
		Roll:     o.Roll,
		Outcome:  o.Status,
	}
	if o.PriorityScore != nil {
		e.Score = *o.PriorityScore
	}
	return e
}

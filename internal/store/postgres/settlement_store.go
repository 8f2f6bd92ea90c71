package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// SettlementStore implements domain.SettlementStore with serializable
// transactions. A callback that fails with a serialization error is re-run
// from the start, so it must not have effects outside the transaction.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// WithSettlementTx runs fn in one serializable transaction.
func (s *SettlementStore) WithSettlementTx(ctx context.Context, fn func(ctx context.Context, tx domain.SettlementTx) error) error {
	return inSerializableTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &settlementTx{tx: tx})
	})
}

type settlementTx struct {
	tx pgx.Tx
}

func (t *settlementTx) LockListing(ctx context.Context, listingID string) (domain.Listing, error) {
	l, err := scanListing(t.tx.QueryRow(ctx,
		`SELECT `+listingCols+` FROM listings l WHERE l.id = $1 FOR UPDATE`, listingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: lock listing %s: %w", listingID, err)
	}
	return l, nil
}

func (t *settlementTx) LockBalance(ctx context.Context, participantID string) (domain.Balance, error) {
	b := domain.Balance{ParticipantID: participantID}
	err := t.tx.QueryRow(ctx,
		`SELECT available_gold, escrowed_gold FROM participants WHERE id = $1 FOR UPDATE`, participantID,
	).Scan(&b.AvailableGold, &b.EscrowedGold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Balance{}, domain.ErrNotFound
		}
		return domain.Balance{}, fmt.Errorf("postgres: lock balance %s: %w", participantID, err)
	}
	return b, nil
}

func (t *settlementTx) PendingOrders(ctx context.Context, listingID string) ([]domain.BuyOrder, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+orderCols+` FROM buy_orders o
		WHERE o.listing_id = $1 AND o.status = 'pending'
		ORDER BY o.placed_at, o.id
		FOR UPDATE`, listingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending orders %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []domain.BuyOrder
	for rows.Next() {
		var o domain.BuyOrder
		if err := scanOrderInto(rows, &o); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: pending orders rows: %w", err)
	}
	return out, nil
}

func (t *settlementTx) ResolveOrder(ctx context.Context, o domain.BuyOrder) error {
	var roll []byte
	if o.Roll != nil {
		var err error
		if roll, err = json.Marshal(o.Roll); err != nil {
			return fmt.Errorf("postgres: marshal roll: %w", err)
		}
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE buy_orders
		SET status = $2, cycle_id = $3, priority_score = $4, roll = $5, basis = $6, resolved_at = $7
		WHERE id = $1 AND status = 'pending'`,
		o.ID, string(o.Status), o.CycleID, o.PriorityScore, roll, string(o.Basis), o.ResolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: resolve order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotPending
	}
	return nil
}

func (t *settlementTx) AdjustBalance(ctx context.Context, participantID string, availableDelta, escrowDelta int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE participants
		SET available_gold = available_gold + $2, escrowed_gold = escrowed_gold + $3, updated_at = NOW()
		WHERE id = $1`,
		participantID, availableDelta, escrowDelta)
	if err != nil {
		return fmt.Errorf("postgres: adjust balance %s: %w", participantID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *settlementTx) MarkListingSold(ctx context.Context, listingID string, price int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE listings SET status = 'sold', sold_price = $2, sold_at = $3 WHERE id = $1 AND status = 'active'`,
		listingID, price, at)
	if err != nil {
		return fmt.Errorf("postgres: mark listing sold %s: %w", listingID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrListingNotActive
	}
	return nil
}

func (t *settlementTx) AddHolding(ctx context.Context, ownerID, itemRef string, quantity int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO holdings (owner_id, item_ref, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (owner_id, item_ref) DO UPDATE SET quantity = holdings.quantity + EXCLUDED.quantity`,
		ownerID, itemRef, quantity)
	if err != nil {
		return fmt.Errorf("postgres: add holding %s/%s: %w", ownerID, itemRef, err)
	}
	return nil
}

func (t *settlementTx) DepositTreasury(ctx context.Context, marketID string, amount int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markets SET treasury_gold = treasury_gold + $2 WHERE id = $1`, marketID, amount)
	if err != nil {
		return fmt.Errorf("postgres: deposit treasury %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *settlementTx) LockPriceHistory(ctx context.Context, itemRef, marketID string, day time.Time) (domain.PriceHistory, error) {
	h := domain.PriceHistory{ItemRef: itemRef, MarketID: marketID, Day: domain.Day(day)}
	err := t.tx.QueryRow(ctx, `
		SELECT avg_price, volume FROM price_history
		WHERE item_ref = $1 AND market_id = $2 AND day = $3
		FOR UPDATE`,
		itemRef, marketID, h.Day,
	).Scan(&h.AvgPrice, &h.Volume)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.PriceHistory{}, fmt.Errorf("postgres: lock price history %s: %w", itemRef, err)
	}
	return h, nil
}

func (t *settlementTx) SavePriceHistory(ctx context.Context, h domain.PriceHistory) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO price_history (item_ref, market_id, day, avg_price, volume)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_ref, market_id, day) DO UPDATE SET
			avg_price = EXCLUDED.avg_price,
			volume    = EXCLUDED.volume`,
		h.ItemRef, h.MarketID, domain.Day(h.Day), h.AvgPrice, h.Volume)
	if err != nil {
		return fmt.Errorf("postgres: save price history %s: %w", h.ItemRef, err)
	}
	return nil
}

func (t *settlementTx) InsertTransaction(ctx context.Context, rec domain.TransactionRecord) error {
	ranking, err := json.Marshal(rec.Ranking)
	if err != nil {
		return fmt.Errorf("postgres: marshal ranking: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO transactions (
			id, market_id, cycle_id, listing_id, winning_order_id, buyer_id, seller_id,
			item_ref, item_name, quantity, ask_price, price, fee, fee_rate, tax, tax_rate,
			seller_net, bidder_count, contested, roll_seed, ranking, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22
		)`,
		rec.ID, rec.MarketID, rec.CycleID, rec.ListingID, rec.WinningOrderID, rec.BuyerID, rec.SellerID,
		rec.ItemRef, rec.ItemName, rec.Quantity, rec.AskPrice, rec.Price, rec.Fee, rec.FeeRate, rec.Tax, rec.TaxRate,
		rec.SellerNet, rec.BidderCount, rec.Contested, rec.RollSeed, ranking, rec.CreatedAt,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: insert transaction %s: %w", rec.ID, err)
	}
	return nil
}

var (
	_ domain.SettlementStore = (*SettlementStore)(nil)
	_ domain.SettlementTx    = (*settlementTx)(nil)
)

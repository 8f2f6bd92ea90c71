package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// Rows are written only by SettlementStore.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionCols = `id, market_id, cycle_id, listing_id, winning_order_id, buyer_id, seller_id,
	item_ref, item_name, quantity, ask_price, price, fee, fee_rate, tax, tax_rate,
	seller_net, bidder_count, contested, roll_seed, ranking, created_at`

func scanTransactions(rows pgx.Rows) ([]domain.TransactionRecord, error) {
	defer rows.Close()
	var out []domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		var ranking []byte
		err := rows.Scan(
			&rec.ID, &rec.MarketID, &rec.CycleID, &rec.ListingID, &rec.WinningOrderID, &rec.BuyerID, &rec.SellerID,
			&rec.ItemRef, &rec.ItemName, &rec.Quantity, &rec.AskPrice, &rec.Price, &rec.Fee, &rec.FeeRate, &rec.Tax, &rec.TaxRate,
			&rec.SellerNet, &rec.BidderCount, &rec.Contested, &rec.RollSeed, &ranking, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		if err := json.Unmarshal(ranking, &rec.Ranking); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal ranking %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transaction rows: %w", err)
	}
	return out, nil
}

// ListByMarket returns a market's transactions, newest first.
func (s *TransactionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	query, args := listClause(`SELECT `+transactionCols+` FROM transactions WHERE market_id = $1`,
		[]any{marketID}, "created_at", "created_at DESC, id DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", marketID, err)
	}
	return scanTransactions(rows)
}

// ListBefore returns every transaction created before the cutoff, oldest first.
func (s *TransactionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE created_at < $1 ORDER BY created_at, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanTransactions(rows)
}

var _ domain.TransactionStore = (*TransactionStore)(nil)

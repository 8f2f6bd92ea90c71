package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// PriceHistoryStore implements domain.PriceHistoryStore using PostgreSQL.
type PriceHistoryStore struct {
	pool *pgxpool.Pool
}

// NewPriceHistoryStore creates a new PriceHistoryStore backed by the given connection pool.
func NewPriceHistoryStore(pool *pgxpool.Pool) *PriceHistoryStore {
	return &PriceHistoryStore{pool: pool}
}

// ListByMarket returns price rows for a market, newest day first. An empty
// itemRef matches every item.
func (s *PriceHistoryStore) ListByMarket(ctx context.Context, marketID, itemRef string, opts domain.ListOpts) ([]domain.PriceHistory, error) {
	query, args := listClause(`
		SELECT item_ref, market_id, day, avg_price, volume
		FROM price_history
		WHERE market_id = $1 AND ($2 = '' OR item_ref = $2)`,
		[]any{marketID, itemRef}, "day", "day DESC, item_ref", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price history %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.PriceHistory
	for rows.Next() {
		var h domain.PriceHistory
		if err := rows.Scan(&h.ItemRef, &h.MarketID, &h.Day, &h.AvgPrice, &h.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan price history: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: price history rows: %w", err)
	}
	return out, nil
}

var _ domain.PriceHistoryStore = (*PriceHistoryStore)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. It also serves
// as the store-backed domain.TaxPolicy, reading each market's tax_rate.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts a market or updates its name and tax rate.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (id, name, tax_rate, created_at)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
		ON CONFLICT (id) DO UPDATE SET
			name     = EXCLUDED.name,
			tax_rate = EXCLUDED.tax_rate`

	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = m.CreatedAt
	}
	if _, err := s.pool.Exec(ctx, query, m.ID, m.Name, m.TaxRate, createdAt); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

const marketCols = `id, name, tax_rate, treasury_gold, created_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	err := row.Scan(&m.ID, &m.Name, &m.TaxRate, &m.TreasuryGold, &m.CreatedAt)
	return m, err
}

// Get retrieves a market by id.
func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered by id.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := listClause(`SELECT `+marketCols+` FROM markets WHERE TRUE`, nil, "created_at", "id", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

// EffectiveTaxRate returns the market's configured tax rate.
func (s *MarketStore) EffectiveTaxRate(ctx context.Context, marketID string) (float64, error) {
	var rate float64
	err := s.pool.QueryRow(ctx, `SELECT tax_rate FROM markets WHERE id = $1`, marketID).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: tax rate %s: %w", marketID, err)
	}
	return rate, nil
}

var (
	_ domain.MarketStore = (*MarketStore)(nil)
	_ domain.TaxPolicy   = (*MarketStore)(nil)
)

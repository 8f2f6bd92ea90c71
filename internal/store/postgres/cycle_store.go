package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// CycleStore implements domain.CycleStore using PostgreSQL. Every status
// change is a conditional UPDATE on the current status, and the partial
// unique index auction_cycles_one_active keeps one live cycle per market.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore backed by the given connection pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

const cycleCols = `id, market_id, cycle_number, status, started_at, processing_at, resolved_at, stats`

func scanCycle(row pgx.Row) (domain.AuctionCycle, error) {
	var c domain.AuctionCycle
	var status string
	var stats []byte
	if err := row.Scan(&c.ID, &c.MarketID, &c.CycleNumber, &status,
		&c.StartedAt, &c.ProcessingAt, &c.ResolvedAt, &stats); err != nil {
		return domain.AuctionCycle{}, err
	}
	c.Status = domain.CycleStatus(status)
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &c.Stats); err != nil {
			return domain.AuctionCycle{}, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	return c, nil
}

func scanCycles(rows pgx.Rows) ([]domain.AuctionCycle, error) {
	defer rows.Close()
	var out []domain.AuctionCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetOpen returns the market's open cycle.
func (s *CycleStore) GetOpen(ctx context.Context, marketID string) (domain.AuctionCycle, error) {
	c, err := scanCycle(s.pool.QueryRow(ctx,
		`SELECT `+cycleCols+` FROM auction_cycles WHERE market_id = $1 AND status = 'open'`, marketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AuctionCycle{}, domain.ErrNotFound
		}
		return domain.AuctionCycle{}, fmt.Errorf("postgres: get open cycle %s: %w", marketID, err)
	}
	return c, nil
}

const insertNextCycle = `
	INSERT INTO auction_cycles (id, market_id, cycle_number, status, started_at)
	SELECT $1, $2, COALESCE(MAX(cycle_number), 0) + 1, 'open', $3
	FROM auction_cycles WHERE market_id = $2
	RETURNING ` + cycleCols

// Open creates the market's next open cycle.
func (s *CycleStore) Open(ctx context.Context, marketID string, startedAt time.Time) (domain.AuctionCycle, error) {
	c, err := scanCycle(s.pool.QueryRow(ctx, insertNextCycle, uuid.NewString(), marketID, startedAt))
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return domain.AuctionCycle{}, domain.ErrAlreadyExists
		}
		return domain.AuctionCycle{}, fmt.Errorf("postgres: open cycle %s: %w", marketID, err)
	}
	return c, nil
}

// BeginProcessing claims an open, due cycle. Exactly one concurrent caller
// wins.
func (s *CycleStore) BeginProcessing(ctx context.Context, cycleID string, at, dueBy time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auction_cycles SET status = 'processing', processing_at = $2
		 WHERE id = $1 AND status = 'open' AND started_at <= $3`,
		cycleID, at, dueBy)
	if err != nil {
		return fmt.Errorf("postgres: begin processing %s: %w", cycleID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM auction_cycles WHERE id = $1`, cycleID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return fmt.Errorf("postgres: begin processing %s: %w", cycleID, err)
	case status == string(domain.CycleOpen):
		return domain.ErrCycleNotDue
	default:
		return domain.ErrCycleBusy
	}
}

// RevertToOpen returns a processing cycle to open.
func (s *CycleStore) RevertToOpen(ctx context.Context, cycleID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auction_cycles SET status = 'open', processing_at = NULL WHERE id = $1 AND status = 'processing'`,
		cycleID)
	if err != nil {
		return fmt.Errorf("postgres: revert cycle %s: %w", cycleID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Resolve writes the stats, resolves the cycle and opens the next one in a
// single transaction.
func (s *CycleStore) Resolve(ctx context.Context, cycleID string, stats domain.CycleStats, resolvedAt time.Time) (domain.AuctionCycle, error) {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return domain.AuctionCycle{}, fmt.Errorf("postgres: marshal cycle stats: %w", err)
	}

	var next domain.AuctionCycle
	err = runTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var marketID string
		err := tx.QueryRow(ctx, `
			UPDATE auction_cycles SET status = 'resolved', resolved_at = $2, stats = $3
			WHERE id = $1 AND status = 'processing'
			RETURNING market_id`,
			cycleID, resolvedAt, statsJSON,
		).Scan(&marketID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrInvalidTransition
			}
			return fmt.Errorf("postgres: resolve cycle %s: %w", cycleID, err)
		}

		next, err = scanCycle(tx.QueryRow(ctx, insertNextCycle, uuid.NewString(), marketID, resolvedAt))
		if err != nil {
			return fmt.Errorf("postgres: open next cycle %s: %w", marketID, err)
		}
		return nil
	})
	if err != nil {
		return domain.AuctionCycle{}, err
	}
	return next, nil
}

// RevertStuck reverts cycles that have been processing since before the cutoff.
func (s *CycleStore) RevertStuck(ctx context.Context, processingBefore time.Time) ([]domain.AuctionCycle, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE auction_cycles SET status = 'open', processing_at = NULL
		WHERE status = 'processing' AND processing_at < $1
		RETURNING `+cycleCols, processingBefore)
	if err != nil {
		return nil, fmt.Errorf("postgres: revert stuck cycles: %w", err)
	}
	out, err := scanCycles(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan stuck cycles: %w", err)
	}
	return out, nil
}

// ListMarketsWithoutCycle returns markets with no open or processing cycle.
func (s *CycleStore) ListMarketsWithoutCycle(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, "markets without cycle", `
		SELECT m.id FROM markets m
		WHERE NOT EXISTS (
			SELECT 1 FROM auction_cycles c
			WHERE c.market_id = m.id AND c.status IN ('open', 'processing')
		)
		ORDER BY m.id`)
}

// ListDueMarkets returns markets whose open cycle started at or before the
// cutoff and that have at least one active listing with a pending order.
func (s *CycleStore) ListDueMarkets(ctx context.Context, startedBefore time.Time) ([]string, error) {
	return s.listIDs(ctx, "due markets", `
		SELECT c.market_id FROM auction_cycles c
		WHERE c.status = 'open' AND c.started_at <= $1
		AND EXISTS (
			SELECT 1 FROM listings l
			JOIN buy_orders o ON o.listing_id = l.id
			WHERE l.market_id = c.market_id AND l.status = 'active' AND o.status = 'pending'
		)
		ORDER BY c.market_id`, startedBefore)
}

func (s *CycleStore) listIDs(ctx context.Context, what, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s: %w", what, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", what, err)
	}
	return ids, nil
}

// ListByMarket returns a market's cycles, newest first.
func (s *CycleStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.AuctionCycle, error) {
	query, args := listClause(`SELECT `+cycleCols+` FROM auction_cycles WHERE market_id = $1`,
		[]any{marketID}, "started_at", "cycle_number DESC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles %s: %w", marketID, err)
	}
	out, err := scanCycles(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan cycles: %w", err)
	}
	return out, nil
}

// ListResolvedBefore returns cycles resolved before the cutoff, oldest first.
func (s *CycleStore) ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.AuctionCycle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cycleCols+` FROM auction_cycles WHERE status = 'resolved' AND resolved_at < $1 ORDER BY resolved_at`,
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved cycles: %w", err)
	}
	out, err := scanCycles(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved cycles: %w", err)
	}
	return out, nil
}

var _ domain.CycleStore = (*CycleStore)(nil)

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ParticipantStore reads participant attributes and trade embargoes. It
// implements domain.BuyerDirectory and domain.TradeRestrictions.
type ParticipantStore struct {
	pool *pgxpool.Pool
}

// NewParticipantStore creates a new ParticipantStore.
func NewParticipantStore(pool *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{pool: pool}
}

// Attributes returns the scoring attributes of the given participants.
// Unknown ids are omitted.
func (s *ParticipantStore) Attributes(ctx context.Context, participantIDs []string) (map[string]domain.BuyerAttributes, error) {
	out := make(map[string]domain.BuyerAttributes, len(participantIDs))
	if len(participantIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, charisma_modifier, profession FROM participants WHERE id = ANY($1)`,
		participantIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: participant attributes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.BuyerAttributes
		if err := rows.Scan(&a.ParticipantID, &a.CharismaModifier, &a.Profession); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		out[a.ParticipantID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: participant attributes rows: %w", err)
	}
	return out, nil
}

// Blocked reports whether an embargo bars buyerID from marketID.
func (s *ParticipantStore) Blocked(ctx context.Context, marketID, buyerID string) (bool, error) {
	var blocked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM trade_embargoes WHERE market_id = $1 AND buyer_id = $2)`,
		marketID, buyerID,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("postgres: trade embargo %s/%s: %w", marketID, buyerID, err)
	}
	return blocked, nil
}

var (
	_ domain.BuyerDirectory    = (*ParticipantStore)(nil)
	_ domain.TradeRestrictions = (*ParticipantStore)(nil)
)

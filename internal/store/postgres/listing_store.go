package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingCols = `l.id, l.market_id, l.seller_id, l.item_ref, l.item_name, l.quantity,
	l.ask_price, l.status, l.sold_price, l.created_at, l.sold_at`

const orderCols = `o.id, o.listing_id, o.buyer_id, o.bid_price, o.placed_at, o.status,
	COALESCE(o.cycle_id, ''), o.priority_score, o.roll, COALESCE(o.basis, ''), o.resolved_at`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	var status string
	err := row.Scan(&l.ID, &l.MarketID, &l.SellerID, &l.ItemRef, &l.ItemName, &l.Quantity,
		&l.AskPrice, &status, &l.SoldPrice, &l.CreatedAt, &l.SoldAt)
	l.Status = domain.ListingStatus(status)
	return l, err
}

// scanOrderInto scans orderCols into o; extra destinations are scanned first.
func scanOrderInto(row pgx.Row, o *domain.BuyOrder, extra ...any) error {
	var status, basis string
	var roll []byte
	dest := append(extra,
		&o.ID, &o.ListingID, &o.BuyerID, &o.BidPrice, &o.PlacedAt, &status,
		&o.CycleID, &o.PriorityScore, &roll, &basis, &o.ResolvedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	o.Status = domain.OrderStatus(status)
	o.Basis = domain.ResolutionBasis(basis)
	if len(roll) > 0 {
		o.Roll = new(domain.RollDetail)
		if err := json.Unmarshal(roll, o.Roll); err != nil {
			return fmt.Errorf("unmarshal roll: %w", err)
		}
	}
	return nil
}

// ListContested returns the market's active listings that have pending
// orders, oldest listing first, each with its orders in placement order.
func (s *ListingStore) ListContested(ctx context.Context, marketID string) ([]domain.ContestedListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingCols+`, `+orderCols+`
		FROM listings l
		JOIN buy_orders o ON o.listing_id = l.id AND o.status = 'pending'
		WHERE l.market_id = $1 AND l.status = 'active'
		ORDER BY l.created_at, l.id, o.placed_at, o.id`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contested %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.ContestedListing
	for rows.Next() {
		var (
			l      domain.Listing
			o      domain.BuyOrder
			status string
		)
		err := scanOrderInto(rows, &o,
			&l.ID, &l.MarketID, &l.SellerID, &l.ItemRef, &l.ItemName, &l.Quantity,
			&l.AskPrice, &status, &l.SoldPrice, &l.CreatedAt, &l.SoldAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan contested listing: %w", err)
		}
		l.Status = domain.ListingStatus(status)

		if n := len(out); n == 0 || out[n-1].Listing.ID != l.ID {
			out = append(out, domain.ContestedListing{Listing: l})
		}
		out[len(out)-1].Orders = append(out[len(out)-1].Orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list contested rows: %w", err)
	}
	return out, nil
}

var _ domain.ListingStore = (*ListingStore)(nil)

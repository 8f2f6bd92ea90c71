package domain

import "time"

// OrderStatus tracks a buy order's lifecycle.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderWon     OrderStatus = "won"
	OrderLost    OrderStatus = "lost"
)

// ResolutionBasis records how an order's outcome was decided.
type ResolutionBasis string

const (
	// BasisAuto is a sole bidder that won without ranking.
	BasisAuto ResolutionBasis = "auto"
	// BasisScore is an order ranked by priority score alone.
	BasisScore ResolutionBasis = "score"
	// BasisRoll is an order that entered the haggling pool and rolled.
	BasisRoll ResolutionBasis = "roll"
	// BasisLate is an order placed after the cycle's read of the listing.
	BasisLate ResolutionBasis = "late"
	// BasisRestricted is an order refused by the trade-restriction check.
	BasisRestricted ResolutionBasis = "restricted"
)

// RollDetail is the haggling roll of a pooled order.
type RollDetail struct {
	Die      int `json:"die"`
	Modifier int `json:"modifier"`
	Total    int `json:"total"`
}

// BuyOrder is a bid against a listing. Escrow equal to BidPrice is held for
// every pending order.
type BuyOrder struct {
	ID            string          `json:"id"`
	ListingID     string          `json:"listing_id"`
	BuyerID       string          `json:"buyer_id"`
	BidPrice      int64           `json:"bid_price"`
	PlacedAt      time.Time       `json:"placed_at"`
	Status        OrderStatus     `json:"status"`
	CycleID       string          `json:"cycle_id,omitempty"`
	PriorityScore *float64        `json:"priority_score,omitempty"`
	Roll          *RollDetail     `json:"roll,omitempty"`
	Basis         ResolutionBasis `json:"basis,omitempty"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

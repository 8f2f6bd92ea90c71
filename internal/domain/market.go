package domain

import "time"

// Market is a single location with its own auction cycle and treasury.
type Market struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TaxRate      float64   `json:"tax_rate"`
	TreasuryGold int64     `json:"treasury_gold"`
	CreatedAt    time.Time `json:"created_at"`
}

// CycleStatus is the lifecycle state of an auction cycle.
type CycleStatus string

const (
	CycleOpen       CycleStatus = "open"
	CycleProcessing CycleStatus = "processing"
	CycleResolved   CycleStatus = "resolved"
)

// CanTransition reports whether a cycle in state s may move to next. The only
// forward edges are open->processing->resolved; processing->open is the
// failure edge. A resolved cycle never changes again.
func (s CycleStatus) CanTransition(next CycleStatus) bool {
	switch s {
	case CycleOpen:
		return next == CycleProcessing
	case CycleProcessing:
		return next == CycleResolved || next == CycleOpen
	default:
		return false
	}
}

// CycleStats are the aggregates written when a cycle is resolved.
type CycleStats struct {
	OrdersProcessed       int            `json:"orders_processed"`
	TransactionsCompleted int            `json:"transactions_completed"`
	ContestedListings     int            `json:"contested_listings"`
	FailedListings        int            `json:"failed_listings"`
	WinnerAffiliations    map[string]int `json:"winner_affiliations"`
	TotalValueTraded      int64          `json:"total_value_traded"`
}

// AuctionCycle is one clearing round for a market.
type AuctionCycle struct {
	ID           string      `json:"id"`
	MarketID     string      `json:"market_id"`
	CycleNumber  int64       `json:"cycle_number"`
	Status       CycleStatus `json:"status"`
	StartedAt    time.Time   `json:"started_at"`
	ProcessingAt *time.Time  `json:"processing_at,omitempty"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty"`
	Stats        CycleStats  `json:"stats"`
}

// Due reports whether the cycle is open and at least d old at now.
func (c AuctionCycle) Due(now time.Time, d time.Duration) bool {
	return c.Status == CycleOpen && !now.Before(c.StartedAt.Add(d))
}

// CycleEvent is published on the cycles channel after a resolution.
type CycleEvent struct {
	MarketID    string      `json:"market_id"`
	CycleID     string      `json:"cycle_id"`
	CycleNumber int64       `json:"cycle_number"`
	Status      CycleStatus `json:"status"`
	Stats       CycleStats  `json:"stats"`
	NextCycleID string      `json:"next_cycle_id,omitempty"`
	At          time.Time   `json:"at"`
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore reads and registers markets.
type MarketStore interface {
	Get(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	// Upsert creates a market or updates its name and tax rate. Treasury
	// gold is only ever changed by settlement.
	Upsert(ctx context.Context, m Market) error
}

// CycleStore persists auction cycles. Status changes are conditional updates
// so concurrent resolvers can never both move the same cycle.
type CycleStore interface {
	// GetOpen returns the market's open cycle or ErrNotFound.
	GetOpen(ctx context.Context, marketID string) (AuctionCycle, error)
	// Open creates the market's next open cycle. It returns ErrAlreadyExists
	// when the market already has an open or processing cycle.
	Open(ctx context.Context, marketID string, startedAt time.Time) (AuctionCycle, error)
	// BeginProcessing moves an open cycle that started at or before dueBy
	// to processing. It returns ErrCycleBusy when the cycle is no longer
	// open and ErrCycleNotDue when it started after dueBy.
	BeginProcessing(ctx context.Context, cycleID string, at, dueBy time.Time) error
	// RevertToOpen moves a processing cycle back to open.
	RevertToOpen(ctx context.Context, cycleID string) error
	// Resolve writes stats, marks the cycle resolved and opens the market's
	// next cycle, all in one transaction.
	Resolve(ctx context.Context, cycleID string, stats CycleStats, resolvedAt time.Time) (AuctionCycle, error)
	// RevertStuck reverts cycles that entered processing before the cutoff.
	RevertStuck(ctx context.Context, processingBefore time.Time) ([]AuctionCycle, error)
	// ListMarketsWithoutCycle returns markets with no open or processing cycle.
	ListMarketsWithoutCycle(ctx context.Context) ([]string, error)
	// ListDueMarkets returns markets whose open cycle started at or before
	// the cutoff and that have an active listing with a pending order.
	ListDueMarkets(ctx context.Context, startedBefore time.Time) ([]string, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]AuctionCycle, error)
	ListResolvedBefore(ctx context.Context, before time.Time) ([]AuctionCycle, error)
}

// ListingStore reads listings for clearing.
type ListingStore interface {
	// ListContested returns every active listing in the market that has at
	// least one pending order, with those orders.
	ListContested(ctx context.Context, marketID string) ([]ContestedListing, error)
}

// SettlementTx is the set of reads and writes a settlement performs inside a
// single atomic transaction. Lock* methods take row locks that are held
// until the transaction ends.
type SettlementTx interface {
	LockListing(ctx context.Context, listingID string) (Listing, error)
	LockBalance(ctx context.Context, participantID string) (Balance, error)
	PendingOrders(ctx context.Context, listingID string) ([]BuyOrder, error)
	// ResolveOrder writes the outcome of a pending order. It returns
	// ErrOrderNotPending when the order was already resolved.
	ResolveOrder(ctx context.Context, order BuyOrder) error
	AdjustBalance(ctx context.Context, participantID string, availableDelta, escrowDelta int64) error
	MarkListingSold(ctx context.Context, listingID string, price int64, at time.Time) error
	// AddHolding merges quantity into the owner's stack of itemRef.
	AddHolding(ctx context.Context, ownerID, itemRef string, quantity int64) error
	DepositTreasury(ctx context.Context, marketID string, amount int64) error
	// LockPriceHistory returns the day's row, or a zero-volume row if none.
	LockPriceHistory(ctx context.Context, itemRef, marketID string, day time.Time) (PriceHistory, error)
	SavePriceHistory(ctx context.Context, h PriceHistory) error
	InsertTransaction(ctx context.Context, rec TransactionRecord) error
}

// SettlementStore runs fn inside one serializable transaction. Any error
// returned by fn rolls back every write.
type SettlementStore interface {
	WithSettlementTx(ctx context.Context, fn func(ctx context.Context, tx SettlementTx) error) error
}

// TransactionStore reads settlement audit records.
type TransactionStore interface {
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]TransactionRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TransactionRecord, error)
}

// PriceHistoryStore reads daily price history.
type PriceHistoryStore interface {
	ListByMarket(ctx context.Context, marketID, itemRef string, opts ListOpts) ([]PriceHistory, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditQuery selects audit entries. EventPrefix matches on the dotted event
// name, so "cycle." returns every cycle lifecycle event.
type AuditQuery struct {
	ListOpts
	EventPrefix string
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	// List returns matching entries, newest first.
	List(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
}

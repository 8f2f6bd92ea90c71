package domain

import "context"

// BuyerDirectory resolves the scoring attributes of participants.
type BuyerDirectory interface {
	Attributes(ctx context.Context, participantIDs []string) (map[string]BuyerAttributes, error)
}

// TaxPolicy is the external lookup of a market's tax rate. Rates are
// expected in [0, 0.5].
type TaxPolicy interface {
	EffectiveTaxRate(ctx context.Context, marketID string) (float64, error)
}

// TradeRestrictions reports embargoes that forbid a buyer from trading in a
// market.
type TradeRestrictions interface {
	Blocked(ctx context.Context, marketID, buyerID string) (bool, error)
}

// EventEmitter delivers completed-trade notifications. Delivery is best
// effort; errors never affect the settlement.
type EventEmitter interface {
	EmitTrade(ctx context.Context, evt TradeEvent) error
}

// SettlementHook is a fire-and-forget side effect run after a settlement
// commits, such as profession XP.
type SettlementHook interface {
	Name() string
	AfterSettlement(ctx context.Context, rec TransactionRecord) error
}

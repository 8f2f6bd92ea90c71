package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RankingEntry is one bidder's line in the audit snapshot of a settlement.
type RankingEntry struct {
	Rank     int             `json:"rank"`
	OrderID  string          `json:"order_id"`
	BuyerID  string          `json:"buyer_id"`
	BidPrice int64           `json:"bid_price"`
	PlacedAt time.Time       `json:"placed_at"`
	Score    float64         `json:"score"`
	Basis    ResolutionBasis `json:"basis"`
	Roll     *RollDetail     `json:"roll,omitempty"`
	Outcome  OrderStatus     `json:"outcome"`
}

// TransactionRecord is the immutable audit record of one settlement.
type TransactionRecord struct {
	ID             string         `json:"id"`
	MarketID       string         `json:"market_id"`
	CycleID        string         `json:"cycle_id"`
	ListingID      string         `json:"listing_id"`
	WinningOrderID string         `json:"winning_order_id"`
	BuyerID        string         `json:"buyer_id"`
	SellerID       string         `json:"seller_id"`
	ItemRef        string         `json:"item_ref"`
	ItemName       string         `json:"item_name"`
	Quantity       int64          `json:"quantity"`
	AskPrice       int64          `json:"ask_price"`
	Price          int64          `json:"price"`
	Fee            int64          `json:"fee"`
	FeeRate        float64        `json:"fee_rate"`
	Tax            int64          `json:"tax"`
	TaxRate        float64        `json:"tax_rate"`
	SellerNet      int64          `json:"seller_net"`
	BidderCount    int            `json:"bidder_count"`
	Contested      bool           `json:"contested"`
	RollSeed       string         `json:"roll_seed,omitempty"`
	Ranking        []RankingEntry `json:"ranking"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TradeEvent is the best-effort notification fired after a settlement.
type TradeEvent struct {
	TransactionID string    `json:"transaction_id"`
	MarketID      string    `json:"market_id"`
	CycleID       string    `json:"cycle_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	ItemName      string    `json:"item_name"`
	Quantity      int64     `json:"quantity"`
	Price         int64     `json:"price"`
	At            time.Time `json:"at"`
}

// NewTradeEvent builds the notification payload for rec.
func NewTradeEvent(rec TransactionRecord) TradeEvent {
	return TradeEvent{
		TransactionID: rec.ID,
		MarketID:      rec.MarketID,
		CycleID:       rec.CycleID,
		BuyerID:       rec.BuyerID,
		SellerID:      rec.SellerID,
		ItemName:      rec.ItemName,
		Quantity:      rec.Quantity,
		Price:         rec.Price,
		At:            rec.CreatedAt,
	}
}

// PriceHistory is the quantity-weighted running average of the resolved
// listing prices of an item kind in a market for one calendar day.
type PriceHistory struct {
	ItemRef  string    `json:"item_ref"`
	MarketID string    `json:"market_id"`
	Day      time.Time `json:"day"`
	AvgPrice float64   `json:"avg_price"`
	Volume   int64     `json:"volume"`
}

// Apply folds a sale of a qty-unit listing at price into the running average:
// newAvg = (avg*volume + price*qty) / (volume+qty).
func (p PriceHistory) Apply(price decimal.Decimal, qty int64) PriceHistory {
	if qty <= 0 {
		return p
	}
	oldVol := decimal.NewFromInt(p.Volume)
	q := decimal.NewFromInt(qty)
	total := decimal.NewFromFloat(p.AvgPrice).Mul(oldVol).Add(price.Mul(q))
	next := p
	next.Volume = p.Volume + qty
	next.AvgPrice, _ = total.Div(oldVol.Add(q)).Float64()
	return next
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

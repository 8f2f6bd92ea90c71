package domain

import "time"

// ListingStatus tracks a listing through its single terminal transition.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSold      ListingStatus = "sold"
	ListingCancelled ListingStatus = "cancelled"
	ListingExpired   ListingStatus = "expired"
)

// Listing is a seller's offer of a fixed quantity of one item kind.
type Listing struct {
	ID        string        `json:"id"`
	MarketID  string        `json:"market_id"`
	SellerID  string        `json:"seller_id"`
	ItemRef   string        `json:"item_ref"`
	ItemName  string        `json:"item_name"`
	Quantity  int64         `json:"quantity"`
	AskPrice  int64         `json:"ask_price"`
	Status    ListingStatus `json:"status"`
	SoldPrice *int64        `json:"sold_price,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	SoldAt    *time.Time    `json:"sold_at,omitempty"`
}

// ContestedListing is an active listing together with the pending orders
// read for it at the start of a cycle.
type ContestedListing struct {
	Listing Listing
	Orders  []BuyOrder
}

// Package hooks holds post-settlement side effects. They run after the
// settlement transaction has committed; a hook failure is logged by the
// cycle manager and never undoes the trade.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// XP roles.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// XPEvent asks the profession system to award experience for a trade.
type XPEvent struct {
	TransactionID string    `json:"transaction_id"`
	MarketID      string    `json:"market_id"`
	ParticipantID string    `json:"participant_id"`
	Role          string    `json:"role"`
	Amount        int64     `json:"amount"`
	At            time.Time `json:"at"`
}

// XPConfig sets the award per trade: Base plus floor(price * PerGold).
type XPConfig struct {
	BuyerBase  int64
	SellerBase int64
	PerGold    float64
}

// XPHook publishes one XPEvent per side of each trade on the xp channel.
type XPHook struct {
	bus domain.SignalBus
	cfg XPConfig
}

// NewXPHook creates an XPHook publishing through bus.
func NewXPHook(bus domain.SignalBus, cfg XPConfig) *XPHook {
	return &XPHook{bus: bus, cfg: cfg}
}

// Name implements domain.SettlementHook.
func (h *XPHook) Name() string { return "xp" }

// AfterSettlement implements domain.SettlementHook.
func (h *XPHook) AfterSettlement(ctx context.Context, rec domain.TransactionRecord) error {
	var errs []error
	for _, evt := range h.Events(rec) {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal xp event: %w", err)
		}
		if err := h.bus.Publish(ctx, domain.ChannelXP, payload); err != nil {
			errs = append(errs, fmt.Errorf("hooks: publish xp for %s: %w", evt.ParticipantID, err))
		}
	}
	return errors.Join(errs...)
}

// Events returns the awards for rec. Sides with a zero award are omitted.
func (h *XPHook) Events(rec domain.TransactionRecord) []XPEvent {
	bonus := int64(0)
	if h.cfg.PerGold > 0 {
		bonus = decimal.NewFromInt(rec.Price).Mul(decimal.NewFromFloat(h.cfg.PerGold)).Floor().IntPart()
	}
	var out []XPEvent
	for _, side := range []struct {
		id, role string
		base     int64
	}{
		{rec.BuyerID, RoleBuyer, h.cfg.BuyerBase},
		{rec.SellerID, RoleSeller, h.cfg.SellerBase},
	} {
		if amount := side.base + bonus; amount > 0 {
			out = append(out, XPEvent{
				TransactionID: rec.ID,
				MarketID:      rec.MarketID,
				ParticipantID: side.id,
				Role:          side.role,
				Amount:        amount,
				At:            rec.CreatedAt,
			})
		}
	}
	return out
}

var _ domain.SettlementHook = (*XPHook)(nil)

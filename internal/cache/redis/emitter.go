package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// TradeEmitter implements domain.EventEmitter on a SignalBus. Each trade is
// published on the trades channel and appended to the trades stream that
// backs the replay endpoint.
type TradeEmitter struct {
	bus domain.SignalBus
}

// NewTradeEmitter creates a TradeEmitter publishing through bus.
func NewTradeEmitter(bus domain.SignalBus) *TradeEmitter {
	return &TradeEmitter{bus: bus}
}

// EmitTrade attempts both deliveries and joins their errors.
func (te *TradeEmitter) EmitTrade(ctx context.Context, evt domain.TradeEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: encode trade %s: %w", evt.TransactionID, err)
	}
	return errors.Join(
		te.bus.Publish(ctx, domain.ChannelTrades, payload),
		te.bus.StreamAppend(ctx, domain.StreamTrades, payload),
	)
}

var _ domain.EventEmitter = (*TradeEmitter)(nil)

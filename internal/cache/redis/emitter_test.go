package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

type recordingBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	pubErr    error
}

func newRecordingBus() *recordingBus {
	return &recordingBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestTradeEmitterPublishesAndAppends(t *testing.T) {
	t.Parallel()
	bus := newRecordingBus()
	evt := domain.TradeEvent{
		TransactionID: "t1", MarketID: "m1", Price: 120, Quantity: 1,
		At: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	assert.NoError(t, NewTradeEmitter(bus).EmitTrade(context.Background(), evt))

	assert.Equal(t, 1, len(bus.published[domain.ChannelTrades]))
	assert.Equal(t, 1, len(bus.streamed[domain.StreamTrades]))
	var got domain.TradeEvent
	assert.NoError(t, json.Unmarshal(bus.streamed[domain.StreamTrades][0], &got))
	check.Equal(t, evt, got)
}

func TestTradeEmitterStillAppendsWhenPublishFails(t *testing.T) {
	t.Parallel()
	bus := newRecordingBus()
	bus.pubErr = errors.New("conn reset")
	err := NewTradeEmitter(bus).EmitTrade(context.Background(), domain.TradeEvent{TransactionID: "t1"})
	check.True(t, errors.Is(err, bus.pubErr))
	check.Equal(t, 1, len(bus.streamed[domain.StreamTrades]))
}

package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// chanBus hands out one Go channel per bus channel.
type chanBus struct {
	mu    sync.Mutex
	chans map[string]chan []byte
	ready sync.WaitGroup
}

func newChanBus(channels ...string) *chanBus {
	b := &chanBus{chans: map[string]chan []byte{}}
	for _, ch := range channels {
		b.chans[ch] = make(chan []byte, 8)
	}
	b.ready.Add(len(channels))
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.chans[channel]
	b.mu.Unlock()
	ch <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer b.ready.Done()
	return b.chans[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	var env envelope
	assert.NoError(t, json.Unmarshal(data, &env))
	return env
}

func startHub(t *testing.T) (*chanBus, *httptest.Server, context.Context) {
	t.Helper()
	bus := newChanBus(DefaultChannels...)
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "full"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	bus.ready.Wait()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return bus, srv, ctx
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	check.Equal(t, frameStatus, readEnvelope(t, conn).Type)
	return conn
}

func TestHubRelaysBusMessages(t *testing.T) {
	t.Parallel()
	bus, srv, ctx := startHub(t)
	conn := dial(t, srv, "")

	assert.NoError(t, conn.WriteJSON(request{Action: "unsubscribe", Channels: []string{domain.ChannelXP}}))
	ack := readEnvelope(t, conn)
	check.Equal(t, frameSubscribed, ack.Type)
	check.Equal(t, `{"channels":["cycles","trades"],"markets":[]}`, string(ack.Payload))

	assert.NoError(t, bus.Publish(ctx, domain.ChannelXP, []byte(`{"amount":5}`)))
	assert.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"market_id":"m1","price":120}`)))

	env := readEnvelope(t, conn)
	check.Equal(t, domain.ChannelTrades, env.Type)
	check.Equal(t, "m1", env.MarketID)
	check.Equal(t, `{"market_id":"m1","price":120}`, string(env.Payload))
}

func TestHubFiltersByMarket(t *testing.T) {
	t.Parallel()
	bus, srv, ctx := startHub(t)
	conn := dial(t, srv, "?markets=m2")

	assert.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"market_id":"m1","price":1}`)))
	assert.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"market_id":"m2","price":2}`)))

	env := readEnvelope(t, conn)
	check.Equal(t, "m2", env.MarketID)
}

func TestHubRejectsUnknownChannel(t *testing.T) {
	t.Parallel()
	_, srv, _ := startHub(t)
	conn := dial(t, srv, "")

	assert.NoError(t, conn.WriteJSON(request{Action: "subscribe", Channels: []string{"orders"}}))
	env := readEnvelope(t, conn)
	check.Equal(t, frameError, env.Type)
	check.Equal(t, `{"error":"unknown channel orders"}`, string(env.Payload))
}

func TestClientWants(t *testing.T) {
	t.Parallel()
	c := newClient(&Hub{channels: DefaultChannels}, nil, "test")
	c.subscribe([]string{domain.ChannelCycles}, []string{"m1"})
	check.True(t, c.wants(domain.ChannelCycles, "m1"))
	check.True(t, c.wants(domain.ChannelCycles, ""))
	check.False(t, c.wants(domain.ChannelCycles, "m2"))
	check.False(t, c.wants(domain.ChannelTrades, "m1"))

	markets := []string{}
	c.apply(request{Action: "subscribe", Markets: &markets})
	check.True(t, c.wants(domain.ChannelCycles, "m2"))
}

func TestNewEventLiftsMarket(t *testing.T) {
	t.Parallel()
	ev, err := newEvent(domain.ChannelCycles, []byte(`{"market_id":"m9","status":"resolved"}`))
	assert.NoError(t, err)
	check.Equal(t, "m9", ev.marketID)

	_, err = newEvent(domain.ChannelCycles, []byte("not json"))
	check.Error(t, err)
}

func TestOriginChecker(t *testing.T) {
	t.Parallel()
	allow := originChecker([]string{"https://ops.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	check.True(t, allow(r))
	r.Header.Set("Origin", "https://evil.example.com")
	check.False(t, allow(r))
	r.Header.Set("Origin", "https://OPS.example.com")
	check.True(t, allow(r))
}

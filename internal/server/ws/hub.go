// Package ws relays engine events from the signal bus to operator WebSocket
// clients. Clients pick bus channels and, optionally, a set of markets; a
// frame reaches a client only when both match.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// DefaultChannels are the bus channels relayed to clients.
var DefaultChannels = []string{
	domain.ChannelTrades,
	domain.ChannelCycles,
	domain.ChannelXP,
}

// Frame types the hub generates itself.
const (
	frameStatus     = "engine_status"
	frameSubscribed = "subscribed"
	frameError      = "error"
)

// envelope is the frame sent to clients. Payload is the bus message as-is.
type envelope struct {
	Type     string          `json:"type"`
	MarketID string          `json:"market_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
	Channels       []string
}

// event is one bus message on its way to the clients.
type event struct {
	channel  string
	marketID string
	frame    []byte
}

// Hub fans bus messages out to connected clients. The clients map is owned
// by the Run goroutine.
type Hub struct {
	bus       domain.SignalBus
	channels  []string
	upgrader  websocket.Upgrader
	mode      string
	startedAt time.Time
	logger    *slog.Logger

	events     chan event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	clients    map[*client]struct{}
}

// NewHub creates a hub that bridges bus to connected clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}

	return &Hub{
		bus:      bus,
		channels: channels,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		mode:       mode,
		startedAt:  startedAt,
		logger:     logger.With(slog.String("component", "ws_hub")),
		events:     make(chan event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return o == "*" || strings.EqualFold(o, origin)
		})
	}
}

// Run subscribes to every relayed channel and serves clients until ctx is
// cancelled. Every client is closed on return.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for _, ch := range h.channels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = struct{}{}
			// Sent from here so a client that has the status frame is
			// known to be registered.
			c.enqueue(h.statusFrame())
			h.logger.Info("ws: client connected",
				slog.String("remote", c.remote),
				slog.Int("clients", len(h.clients)),
			)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Info("ws: client disconnected",
					slog.String("remote", c.remote),
					slog.Int("clients", len(h.clients)),
				)
			}

		case ev := <-h.events:
			for c := range h.clients {
				if !c.wants(ev.channel, ev.marketID) {
					continue
				}
				if !c.enqueue(ev.frame) {
					// A client that cannot keep up would miss trades
					// silently; disconnect it so it resyncs over REST.
					h.logger.Warn("ws: disconnecting slow client", slog.String("remote", c.remote))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

// relay forwards one bus channel into the fan-out loop.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			ev, err := newEvent(channel, data)
			if err != nil {
				h.logger.Warn("ws: dropping non-JSON payload", slog.String("channel", channel))
				continue
			}
			select {
			case h.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// newEvent wraps a bus payload in its frame, lifting market_id to the
// envelope so clients can filter without decoding the payload.
func newEvent(channel string, data []byte) (event, error) {
	var head struct {
		MarketID string `json:"market_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return event{}, err
	}
	frame, err := json.Marshal(envelope{Type: channel, MarketID: head.MarketID, Payload: data})
	if err != nil {
		return event{}, err
	}
	return event{channel: channel, marketID: head.MarketID, frame: frame}, nil
}

// HandleWS upgrades the request and registers the client, which the hub
// greets with an engine_status frame. New clients get every relayed
// channel; ?markets=m1,m2 narrows them to those markets.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	c.subscribe(h.channels, splitList(r.URL.Query().Get("markets")))

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) statusFrame() []byte {
	uptime := max(int64(time.Since(h.startedAt).Seconds()), 0)
	payload, _ := json.Marshal(map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
		"channels":       h.channels,
	})
	frame, _ := json.Marshal(envelope{Type: frameStatus, Payload: payload})
	return frame
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

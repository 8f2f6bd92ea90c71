package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// request is the JSON message a client sends to change what it receives:
//
//	{"action":"subscribe","channels":["trades"],"markets":["m1"]}
//	{"action":"unsubscribe","channels":["xp"]}
//
// markets replaces the market filter when present; an empty list clears it.
type request struct {
	Action   string    `json:"action"`
	Channels []string  `json:"channels"`
	Markets  *[]string `json:"markets,omitempty"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	// writeMu serialises writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu       sync.RWMutex
	channels map[string]bool
	markets  map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, remote string) *client {
	return &client{
		hub:      h,
		conn:     conn,
		remote:   remote,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]bool),
		markets:  make(map[string]bool),
	}
}

// wants reports whether a frame from channel about marketID goes to c.
// Frames without a market pass any market filter.
func (c *client) wants(channel, marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.channels[channel] {
		return false
	}
	return len(c.markets) == 0 || marketID == "" || c.markets[marketID]
}

// enqueue queues a frame without blocking and reports false when the buffer
// is full. Only the hub goroutine calls it.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) subscribe(channels, markets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		c.channels[ch] = true
	}
	if markets != nil {
		c.setMarketsLocked(markets)
	}
}

func (c *client) setMarketsLocked(markets []string) {
	clear(c.markets)
	for _, m := range markets {
		c.markets[m] = true
	}
}

// apply handles one request and returns the reply frame.
func (c *client) apply(req request) []byte {
	for _, ch := range req.Channels {
		if !slices.Contains(c.hub.channels, ch) {
			return errorFrame("unknown channel " + ch)
		}
	}

	c.mu.Lock()
	switch req.Action {
	case "subscribe":
		for _, ch := range req.Channels {
			c.channels[ch] = true
		}
	case "unsubscribe":
		for _, ch := range req.Channels {
			delete(c.channels, ch)
		}
	default:
		c.mu.Unlock()
		return errorFrame("unknown action " + req.Action)
	}
	if req.Markets != nil {
		c.setMarketsLocked(*req.Markets)
	}
	payload, _ := json.Marshal(map[string]any{
		"channels": sortedKeys(c.channels),
		"markets":  sortedKeys(c.markets),
	})
	c.mu.Unlock()

	frame, _ := json.Marshal(envelope{Type: frameSubscribed, Payload: payload})
	return frame
}

func errorFrame(msg string) []byte {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	frame, _ := json.Marshal(envelope{Type: frameError, Payload: payload})
	return frame
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// readPump applies client requests until the connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}

		var req request
		reply := errorFrame("malformed request")
		if json.Unmarshal(data, &req) == nil {
			reply = c.apply(req)
		}
		c.reply(reply)
	}
}

// reply writes a frame directly rather than through send, which the hub may
// close at any time.
func (c *client) reply(frame []byte) {
	_ = c.write(websocket.TextMessage, frame)
}

// writePump drains the send queue and pings the client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	defaultFeedCount = 100
	maxFeedCount     = 1000
)

// streamIDPattern matches Redis stream IDs ("1700000000000-0") and the "0"
// start marker.
var streamIDPattern = regexp.MustCompile(`^\d+(-\d+)?$`)

// StreamReader reads a durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// TradeFeedHandler replays recent trades from the trade stream, so a
// consumer that was offline can catch up before switching to /ws.
type TradeFeedHandler struct {
	stream StreamReader
	logger *slog.Logger
}

// NewTradeFeedHandler creates a TradeFeedHandler.
func NewTradeFeedHandler(stream StreamReader, logger *slog.Logger) *TradeFeedHandler {
	return &TradeFeedHandler{stream: stream, logger: logHandler(logger, "trade_feed")}
}

type feedEntry struct {
	ID    string            `json:"id"`
	Trade domain.TradeEvent `json:"trade"`
}

// Replay returns trades after the given stream ID, oldest first, and the ID
// to pass as after on the next call.
// GET /api/trades/feed?after=1700000000000-0&count=100
func (h *TradeFeedHandler) Replay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	if !streamIDPattern.MatchString(after) {
		writeError(w, http.StatusBadRequest, "invalid after: want a stream id")
		return
	}
	count := defaultFeedCount
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = min(n, maxFeedCount)
	}

	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamTrades, after, count)
	if err != nil {
		writeStoreError(w, r, h.logger, "read trade stream", err)
		return
	}

	entries := make([]feedEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		next = m.ID
		var evt domain.TradeEvent
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			h.logger.WarnContext(r.Context(), "skipping undecodable trade", slog.String("id", m.ID))
			continue
		}
		entries = append(entries, feedEntry{ID: m.ID, Trade: evt})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": entries,
		"next":   next,
	})
}

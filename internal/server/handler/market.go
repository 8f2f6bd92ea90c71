package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// MarketHandler serves market, transaction and price history reads.
type MarketHandler struct {
	markets      domain.MarketStore
	transactions domain.TransactionStore
	prices       domain.PriceHistoryStore
	logger       *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets domain.MarketStore, transactions domain.TransactionStore, prices domain.PriceHistoryStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:      markets,
		transactions: transactions,
		prices:       prices,
		logger:       logHandler(logger, "markets"),
	}
}

// ListMarkets returns markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	markets, err := h.markets.List(r.Context(), opts)
	if err != nil {
		writeStoreError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// GetMarket returns a single market, including its treasury.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeStoreError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListTransactions returns a market's settlement records, newest first.
// GET /api/markets/{id}/transactions?since=...&until=...
func (h *MarketHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.transactions.ListByMarket(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeStoreError(w, r, h.logger, "list transactions", err)
		return
	}
	if recs == nil {
		recs = []domain.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": recs,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}

// PriceHistory returns daily quantity-weighted average prices, newest day
// first.
// GET /api/markets/{id}/price-history?item=iron-ore
func (h *MarketHandler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.prices.ListByMarket(r.Context(), pathParam(r, "id"), r.URL.Query().Get("item"), opts)
	if err != nil {
		writeStoreError(w, r, h.logger, "list price history", err)
		return
	}
	if rows == nil {
		rows = []domain.PriceHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"price_history": rows,
		"limit":         opts.Limit,
		"offset":        opts.Offset,
	})
}

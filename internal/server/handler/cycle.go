package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/clearing"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// CycleRunner triggers resolution. *clearing.Scheduler satisfies it.
type CycleRunner interface {
	ResolveDueCycles(ctx context.Context) (clearing.TickSummary, error)
	ResolveMarket(ctx context.Context, marketID string) (clearing.Result, error)
}

// CycleHandler serves manual resolution and cycle history.
type CycleHandler struct {
	runner  CycleRunner
	markets domain.MarketStore
	cycles  domain.CycleStore
	logger  *slog.Logger
}

// NewCycleHandler creates a CycleHandler.
func NewCycleHandler(runner CycleRunner, markets domain.MarketStore, cycles domain.CycleStore, logger *slog.Logger) *CycleHandler {
	return &CycleHandler{
		runner:  runner,
		markets: markets,
		cycles:  cycles,
		logger:  logHandler(logger, "cycles"),
	}
}

// ResolveDue runs one scheduling pass across all markets and returns its
// summary.
// POST /api/cycles/resolve
func (h *CycleHandler) ResolveDue(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "manual resolve requested")
	sum, err := h.runner.ResolveDueCycles(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, "resolve due cycles", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ResolveMarket resolves one market's open cycle if it is due.
// A zero result (nothing due, or another resolver holds the cycle) is still a
// 200.
// POST /api/markets/{id}/resolve
func (h *CycleHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if _, err := h.markets.Get(r.Context(), id); err != nil {
		writeStoreError(w, r, h.logger, "get market", err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual market resolve requested", slog.String("market_id", id))
	res, err := h.runner.ResolveMarket(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListCycles returns a market's cycles, newest first.
// GET /api/markets/{id}/cycles?limit=50&offset=0
func (h *CycleHandler) ListCycles(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cycles, err := h.cycles.ListByMarket(r.Context(), pathParam(r, "id"), opts)
	if err != nil {
		writeStoreError(w, r, h.logger, "list cycles", err)
		return
	}
	if cycles == nil {
		cycles = []domain.AuctionCycle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycles": cycles,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

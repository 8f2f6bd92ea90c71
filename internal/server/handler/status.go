package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/clearing"
)

// TickReporter exposes the scheduler's most recent pass.
// *clearing.Scheduler satisfies it.
type TickReporter interface {
	LastTick() (clearing.TickSummary, time.Time, bool)
}

// StatusHandler serves the engine status for operators.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	ticks     TickReporter
}

// NewStatusHandler creates a StatusHandler. ticks may be nil when the
// process runs without a scheduler.
func NewStatusHandler(mode string, startedAt time.Time, ticks TickReporter) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, ticks: ticks}
}

// GetStatus responds with the run mode, uptime and last scheduler pass.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.ticks != nil {
		if sum, at, ok := h.ticks.LastTick(); ok {
			resp["last_tick"] = map[string]any{
				"at":      at.Format(time.RFC3339),
				"summary": sum,
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// ArchiveHandler lets operators start an archive run without waiting for the
// cron schedule.
type ArchiveHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{}
}

// NewArchiveHandler creates an ArchiveHandler. A nil channel means archiving
// is disabled and triggers are refused.
func NewArchiveHandler(triggerCh chan<- struct{}, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{triggerCh: triggerCh, logger: logHandler(logger, "archive")}
}

// Trigger enqueues one archive run. A trigger already waiting to be consumed
// absorbs this one.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is disabled")
		return
	}
	h.logger.InfoContext(r.Context(), "archive trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

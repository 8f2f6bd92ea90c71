package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// AuditHandler serves the audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

// ListEntries returns audit entries, newest first.
// GET /api/audit?event=cycle.&since=...&limit=100
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), domain.AuditQuery{
		ListOpts:    opts,
		EventPrefix: r.URL.Query().Get("event"),
	})
	if err != nil {
		writeStoreError(w, r, h.logger, "list audit entries", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

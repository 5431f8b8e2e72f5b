package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/textblast/internal/auth"
	"github.com/dukerupert/textblast/internal/store"
)

type OverviewHandler struct {
	stats  *store.StatsStore
	logger *slog.Logger
}

func NewOverviewHandler(stats *store.StatsStore, logger *slog.Logger) *OverviewHandler {
	return &OverviewHandler{stats: stats, logger: logger}
}

// Stats handles GET /overview/stats
func (h *OverviewHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if err := auth.Authorize(p, auth.CapAdmin); err != nil {
		writeError(w, h.logger, err)
		return
	}

	stats, err := h.stats.Overview(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

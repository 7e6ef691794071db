package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/lojf/rostersync/internal/feed"
	"github.com/lojf/rostersync/internal/services"
)

// POST /api/cycles runs a cycle now and returns its report.
func (h *Handlers) RunCycleNow(w http.ResponseWriter, r *http.Request) {
	if h.RunCycle == nil {
		writeError(w, http.StatusServiceUnavailable, "cycles disabled")
		return
	}
	rep, err := h.RunCycle(r.Context())
	if err != nil {
		var cerr *services.CycleError
		body := map[string]any{"error": err.Error()}
		if errors.As(err, &cerr) {
			body["cycle_id"] = cerr.CycleID
			body["stage"] = cerr.Stage
			if cerr.Stage == services.StageNotify {
				// The cycle itself completed.
				body["report"] = rep
			}
		}
		status := http.StatusInternalServerError
		if errors.Is(err, feed.ErrFeedAccess) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GET /api/cycles[?limit=N]
func (h *Handlers) ListCycles(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Cycles.Recent(r.Context(), limit)
	if err != nil {
		h.Log.Error().Err(err).Msg("list cycles")
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

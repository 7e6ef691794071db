package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/lojf/rostersync/internal/db"
)

// GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx, h.DB); err != nil {
		h.Log.Error().Err(err).Msg("health check failed")
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

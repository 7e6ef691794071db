package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lojf/rostersync/internal/store"
)

// GET /api/enrollments/{code}
func (h *Handlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Enrollments.Get(r.Context(), chi.URLParam(r, "code"))
	if errors.Is(err, store.ErrEnrollmentNotFound) {
		writeError(w, http.StatusNotFound, "enrollment not found")
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Msg("get enrollment")
		writeError(w, http.StatusInternalServerError, "db error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

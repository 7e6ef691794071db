package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/lojf/rostersync/internal/store"
)

// GET /qr/{code}.png renders the identity code so a member can scan it into
// their display name.
func (h *Handlers) QR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if code == "" {
		http.NotFound(w, r)
		return
	}
	// only codes in the current snapshot
	if _, err := h.Enrollments.Get(r.Context(), code); err != nil {
		if !errors.Is(err, store.ErrEnrollmentNotFound) {
			h.Log.Error().Err(err).Msg("qr lookup")
		}
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to generate qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

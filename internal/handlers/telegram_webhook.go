package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/lojf/rostersync/internal/bot"
)

const maxUpdateBytes = 1 << 20

// POST /tg/webhook?secret=...
func (h *Handlers) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("secret")
	if h.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.WebhookSecret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if h.Dispatcher == nil {
		http.Error(w, "bot disabled", http.StatusServiceUnavailable)
		return
	}

	var up bot.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateBytes)).Decode(&up); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.Dispatcher.Handle(r.Context(), &up); err != nil {
		h.Metrics.MemberEvent("failed", 1)
		h.Log.Error().Err(err).Int64("update_id", up.UpdateID).Msg("telegram update failed")
		// Telegram retries non-2xx responses.
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}
	h.Metrics.MemberEvent("webhook", 1)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

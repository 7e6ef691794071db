// Package handlers serves the operator HTTP surface: health, the Telegram
// webhook, roster ingestion and export, and on-demand cycles.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lojf/rostersync/internal/bot"
	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/metrics"
	"github.com/lojf/rostersync/internal/store"
)

// Deps are the collaborators the handlers need.
type Deps struct {
	DB            *gorm.DB
	Roster        *store.RosterStore
	Enrollments   *store.EnrollmentStore
	Cycles        *store.CycleStore
	Dispatcher    *bot.Dispatcher
	RunCycle      func(ctx context.Context) (events.CycleReport, error)
	Today         func() time.Time
	WebhookSecret string
	Metrics       *metrics.Metrics
	Log           zerolog.Logger
}

type Handlers struct {
	Deps
}

func New(d Deps) *Handlers {
	if d.Today == nil {
		d.Today = func() time.Time { return time.Now().UTC().Truncate(24 * time.Hour) }
	}
	return &Handlers{Deps: d}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/lojf/rostersync/internal/handlers"
	"github.com/lojf/rostersync/internal/metrics"
)

// Options configure the router around the handlers.
type Options struct {
	AdminToken  string
	CORSOrigins []string
	Metrics     *metrics.Metrics
	Log         zerolog.Logger
}

func Router(h *handlers.Handlers, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(opts.Log))
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Token"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	r.Post("/tg/webhook", h.TelegramWebhook)
	r.Get("/qr/{code}.png", h.QR)

	r.Route("/api", func(ar chi.Router) {
		ar.Use(handlers.RequireAdmin(opts.AdminToken))

		ar.Post("/members", h.IngestMembers)
		ar.Get("/members", h.ListMembers)
		ar.Get("/roster.csv", h.RosterCSV)
		ar.Post("/cycles", h.RunCycleNow)
		ar.Get("/cycles", h.ListCycles)
		ar.Get("/enrollments/{code}", h.GetEnrollment)
	})

	return r
}

var accessLog = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("request_id", middleware.GetReqID(r.Context())).
		Int("status", status).
		Int("size", size).
		Dur("took", d).
		Msg("http request")
})

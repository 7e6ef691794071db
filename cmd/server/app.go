package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lojf/rostersync/internal/bot"
	"github.com/lojf/rostersync/internal/config"
	"github.com/lojf/rostersync/internal/db"
	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/feed"
	"github.com/lojf/rostersync/internal/logging"
	"github.com/lojf/rostersync/internal/metrics"
	"github.com/lojf/rostersync/internal/services"
	"github.com/lojf/rostersync/internal/store"
)

// app holds everything a subcommand may need, built once from config.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	db      *gorm.DB
	loc     *time.Location
	metrics *metrics.Metrics

	roster      *store.RosterStore
	enrollments *store.EnrollmentStore
	chats       *store.ChatStore
	cycles      *store.CycleStore
	engine      *services.Engine
	job         *services.CycleJob
}

func newApp(envFile, logLevel string) (*app, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Options{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: conn, loc: loc, metrics: metrics.New()}
	a.roster = store.NewRosterStore(conn, log)
	a.enrollments = store.NewEnrollmentStore(conn, log)
	a.chats = store.NewChatStore(conn, log)
	a.cycles = store.NewCycleStore(conn)
	a.engine = services.NewEngine(conn, a.roster, log, services.EngineOptions{
		Location: loc,
		Metrics:  a.metrics,
	})
	a.job = &services.CycleJob{
		Engine:   a.engine,
		Source:   feed.FileSource{Path: cfg.FeedPath},
		Notifier: a.notifier(),
		Log:      log,
	}
	return a, nil
}

func (a *app) notifier() events.Notifier {
	if a.cfg.TGBotToken == "" || a.cfg.TGAdminChatID == 0 {
		a.log.Info().Msg("no telegram admin chat configured, cycle reports go to the log")
		return bot.LogNotifier{Log: a.log}
	}
	return &bot.Notifier{Client: bot.NewClient(a.cfg.TGBotToken, ""), ChatID: a.cfg.TGAdminChatID}
}

func (a *app) close() {
	if err := db.Close(a.db); err != nil {
		a.log.Warn().Err(err).Msg("close database")
	}
}

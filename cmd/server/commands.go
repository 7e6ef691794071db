package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lojf/rostersync/internal/bot"
	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/handlers"
	"github.com/lojf/rostersync/internal/services"
	"github.com/lojf/rostersync/internal/web"
)

type rootFlags struct {
	envFile  string
	logLevel string
}

func newRootCommand() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "rostersync",
		Short: "Reconcile chat members against the enrollment feed",
		Long: `rostersync keeps a roster of chat members, matches them to enrollment
records by the code in their display name, and reports members that are
unidentified or whose enrollment has lapsed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.envFile, "env-file", "", "dotenv file to load (default .env)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newServeCommand(f),
		newCycleCommand(f),
		newImportMembersCommand(f),
		newMigrateCommand(f),
	)
	return root
}

func newServeCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the daily cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(f.envFile, f.logLevel)
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	allowed, err := a.cfg.AllowedChats()
	if err != nil {
		return err
	}
	h := handlers.New(handlers.Deps{
		DB:            a.db,
		Roster:        a.roster,
		Enrollments:   a.enrollments,
		Cycles:        a.cycles,
		Dispatcher:    bot.NewDispatcher(a.roster, a.chats, allowed, a.log),
		RunCycle:      a.job.Run,
		Today:         a.engine.Today,
		WebhookSecret: a.cfg.TGWebhookSecret,
		Metrics:       a.metrics,
		Log:           a.log,
	})
	srv := &http.Server{
		Addr: a.cfg.Addr,
		Handler: web.Router(h, web.Options{
			AdminToken:  a.cfg.AdminToken,
			CORSOrigins: a.cfg.CORSOriginList(),
			Metrics:     a.metrics,
			Log:         a.log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var workers []func(context.Context)
	if a.cfg.CycleOnStart {
		workers = append(workers, func(ctx context.Context) {
			if _, err := a.job.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("startup cycle failed")
			}
		})
	}
	if a.cfg.ScheduleEnabled {
		hour, minute, err := a.cfg.CycleTime()
		if err != nil {
			return err
		}
		sched := &services.Scheduler{
			Schedule: services.DailySchedule{Hour: hour, Minute: minute, Location: a.loc},
			Log:      a.log,
			Job: func(ctx context.Context) error {
				_, err := a.job.Run(ctx)
				return err
			},
		}
		workers = append(workers, func(ctx context.Context) { _ = sched.Run(ctx) })
	}
	// the database is closed after serve returns, so cycles must be done by then
	stop := startWorkers(ctx, workers...)
	defer stop()

	errc := make(chan error, 2)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startWorkers runs each worker in its own goroutine. The returned stop
// cancels their context and blocks until every worker has returned.
func startWorkers(ctx context.Context, workers ...func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w(ctx)
		}()
	}
	return func() {
		cancel()
		wg.Wait()
	}
}

func newCycleCommand(f *rootFlags) *cobra.Command {
	var notify bool
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one enrollment cycle from FEED_PATH and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(f.envFile, f.logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			var rep events.CycleReport
			if notify {
				rep, err = a.job.Run(cmd.Context())
			} else {
				rep, err = a.engine.RunFromSource(cmd.Context(), a.job.Source)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "send the report to the notifier as well")
	return cmd
}

func newImportMembersCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import-members FILE",
		Short: "Upsert members from a JSON array of member events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(f.envFile, f.logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			evs, err := readMemberEvents(args[0])
			if err != nil {
				return err
			}
			res, err := a.roster.IngestEvents(cmd.Context(), evs)
			if err != nil {
				return fmt.Errorf("import stopped after %d members: %w", res.Upserted, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d members, skipped %d automated accounts\n", res.Upserted, res.Automated)
			return nil
		},
	}
}

func readMemberEvents(path string) ([]events.MemberEvent, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var evs []events.MemberEvent
	if err := json.Unmarshal(b, &evs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for i, ev := range evs {
		if ev.UserID == 0 {
			return nil, fmt.Errorf("%s: event %d has no user_id", path, i)
		}
	}
	return evs, nil
}

func newMigrateCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			// opening the database migrates it
			a, err := newApp(f.envFile, f.logLevel)
			if err != nil {
				return err
			}
			a.close()
			return nil
		},
	}
}

package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lojf/rostersync/internal/events"
	"github.com/lojf/rostersync/internal/feed"
	"github.com/lojf/rostersync/internal/logging"
	"github.com/lojf/rostersync/internal/metrics"
	"github.com/lojf/rostersync/internal/models"
	"github.com/lojf/rostersync/internal/store"
)

// Cycle stages, as reported in CycleError and the cycle_runs audit table.
const (
	StageReadFeed  = "read_feed"
	StageReplace   = "replace"
	StageCorrelate = "correlate"
	StageClassify  = "classify"
	StageNotify    = "notify"
)

// CycleError is returned for every failed cycle and names the failing stage.
type CycleError struct {
	CycleID string
	Stage   string
	Err     error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %s failed at %s: %v", e.CycleID, e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// EngineOptions tunes an Engine. Zero values pick sensible defaults.
type EngineOptions struct {
	Location *time.Location   // calendar used for "today"; defaults to time.Local
	Now      func() time.Time // defaults to time.Now
	Metrics  *metrics.Metrics // optional
}

// Engine runs reconciliation cycles: parse the feed, replace the enrollment
// snapshot, correlate identities, then classify unidentified and lapsed
// members. Cycles never interleave.
type Engine struct {
	db          *gorm.DB
	roster      *store.RosterStore
	enrollments *store.EnrollmentStore
	cycles      *store.CycleStore
	correlator  *Correlator
	metrics     *metrics.Metrics
	log         zerolog.Logger
	loc         *time.Location
	now         func() time.Time

	mu sync.Mutex
}

// NewEngine wires an engine over conn. roster is shared with the membership
// event path so both use the same per-user locks.
func NewEngine(conn *gorm.DB, roster *store.RosterStore, log zerolog.Logger, opts EngineOptions) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		db:          conn,
		roster:      roster,
		enrollments: store.NewEnrollmentStore(conn, log),
		cycles:      store.NewCycleStore(conn),
		correlator:  NewCorrelator(log),
		metrics:     opts.Metrics,
		log:         log,
		loc:         opts.Location,
		now:         opts.Now,
	}
}

// Today is the current calendar date in the engine's location, as stored.
func (e *Engine) Today() time.Time {
	return feed.DateOf(e.now().In(e.loc))
}

// RunEnrollmentCycle reconciles the roster against rows and returns the
// complete report. On error no report is produced and the previous
// enrollment snapshot stays in place unless the replace stage committed.
func (e *Engine) RunEnrollmentCycle(ctx context.Context, rows []feed.Row) (events.CycleReport, error) {
	return e.run(ctx, func(context.Context) ([]feed.Row, error) { return rows, nil })
}

// RunFromSource reads src and runs a cycle on its rows. A read failure
// leaves every store untouched.
func (e *Engine) RunFromSource(ctx context.Context, src feed.Source) (events.CycleReport, error) {
	return e.run(ctx, src.Rows)
}

func (e *Engine) run(ctx context.Context, read func(context.Context) ([]feed.Row, error)) (events.CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := e.now()
	rep := events.CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: started,
		Today:     feed.DateOf(started.In(e.loc)),
	}
	log := e.log.With().Str("cycle_id", rep.CycleID).Logger()
	ctx = logging.WithLogger(ctx, log)
	// the audit row must reach a final status even when ctx is cancelled mid-cycle
	auditCtx := context.WithoutCancel(ctx)
	run := &models.CycleRun{ID: rep.CycleID, StartedAt: started, Status: models.CycleRunning}
	if err := e.cycles.Start(auditCtx, run); err != nil {
		log.Warn().Err(err).Msg("could not record cycle start")
	}
	log.Info().Time("today", rep.Today).Msg("cycle started")

	fail := func(stage string, err error) (events.CycleReport, error) {
		finished := e.now()
		run.FinishedAt = &finished
		run.Status = models.CycleFailed
		run.Stage = stage
		run.Error = err.Error()
		if ferr := e.cycles.Finish(auditCtx, run); ferr != nil {
			log.Warn().Err(ferr).Msg("could not record cycle failure")
		}
		e.metrics.CycleFailed(finished.Sub(started))
		log.Error().Err(err).Str("stage", stage).Time("started_at", started).Msg("cycle failed")
		return events.CycleReport{}, &CycleError{CycleID: rep.CycleID, Stage: stage, Err: err}
	}

	rows, err := read(ctx)
	if err != nil {
		return fail(StageReadFeed, err)
	}

	parsed := feed.Parse(rows)
	for _, issue := range parsed.Issues {
		log.Warn().Int("row", issue.Row).Str("column", issue.Column).Str("value", issue.Value).Err(issue.Err).Msg("feed field issue")
	}
	if len(parsed.Records) == 0 {
		log.Warn().Int("rows", len(rows)).Msg("feed has no records")
	}
	rep.Records = len(parsed.Records)
	rep.Issues = len(parsed.Issues)

	if err := e.enrollments.ReplaceAll(ctx, parsed.Records); err != nil {
		return fail(StageReplace, err)
	}

	stage := StageCorrelate
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roster := e.roster.WithTx(tx)
		enrollments := e.enrollments.WithTx(tx)

		corr, err := e.correlator.UpdateIdentityCodes(ctx, roster, enrollments)
		if err != nil {
			return err
		}
		rep.Assigned = len(corr.Assigned)
		rep.Ambiguities = corr.Ambiguities

		stage = StageClassify
		if rep.Unidentified, err = roster.Unassigned(ctx); err != nil {
			return err
		}
		rep.Lapsed, err = LapsedMembers(ctx, roster, enrollments, rep.Today)
		return err
	})
	if err != nil {
		return fail(stage, err)
	}

	rep.FinishedAt = e.now()
	run.FinishedAt = &rep.FinishedAt
	run.Status = models.CycleSucceeded
	run.Records = rep.Records
	run.Issues = rep.Issues
	run.Assigned = rep.Assigned
	run.Unidentified = len(rep.Unidentified)
	run.Lapsed = len(rep.Lapsed)
	run.Ambiguities = len(rep.Ambiguities)
	if err := e.cycles.Finish(auditCtx, run); err != nil {
		log.Warn().Err(err).Msg("could not record cycle result")
	}
	e.metrics.CycleSucceeded(rep.FinishedAt.Sub(started), rep)

	log.Info().
		Int("records", rep.Records).
		Int("issues", rep.Issues).
		Int("assigned", rep.Assigned).
		Int("unidentified", len(rep.Unidentified)).
		Int("lapsed", len(rep.Lapsed)).
		Int("ambiguities", len(rep.Ambiguities)).
		Dur("took", rep.FinishedAt.Sub(started)).
		Msg("cycle finished")
	return rep, nil
}

// LapsedMembers returns members whose record's autoship date is before today
// with no active kit order. Records without a date never qualify.
func LapsedMembers(ctx context.Context, roster *store.RosterStore, enrollments *store.EnrollmentStore, today time.Time) ([]models.Member, error) {
	due, err := enrollments.DueBefore(ctx, today)
	if err != nil {
		return nil, err
	}
	var codes []string
	for _, r := range due {
		if !r.HasActiveKitOrder {
			codes = append(codes, r.IdentityCode)
		}
	}
	return roster.ByIdentityCodes(ctx, codes)
}

// CycleJob runs a cycle from Source and hands the report to Notifier. It is
// what the scheduler and the operator endpoint invoke.
type CycleJob struct {
	Engine   *Engine
	Source   feed.Source
	Notifier events.Notifier
	Log      zerolog.Logger
}

func (j *CycleJob) Run(ctx context.Context) (events.CycleReport, error) {
	rep, err := j.Engine.RunFromSource(ctx, j.Source)
	if err != nil {
		return rep, err
	}
	if j.Notifier == nil {
		return rep, nil
	}
	if err := j.Notifier.Notify(ctx, rep); err != nil {
		j.Log.Error().Err(err).Str("cycle_id", rep.CycleID).Msg("notify failed")
		return rep, &CycleError{CycleID: rep.CycleID, Stage: StageNotify, Err: err}
	}
	return rep, nil
}

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DailySchedule fires once a day at Hour:Minute wall-clock time in Location.
type DailySchedule struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Next returns the first fire time not before now: today's slot if it has
// not passed yet, otherwise tomorrow's.
func (s DailySchedule) Next(now time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, loc)
	if now.After(at) {
		at = time.Date(now.Year(), now.Month(), now.Day()+1, s.Hour, s.Minute, 0, 0, loc)
	}
	return at
}

// Scheduler runs Job at every fire time of Schedule until its context ends.
// Now and After default to the real clock.
type Scheduler struct {
	Schedule DailySchedule
	Job      func(ctx context.Context) error
	Log      zerolog.Logger
	Now      func() time.Time
	After    func(d time.Duration) <-chan time.Time
}

// Run blocks until ctx is cancelled. Job errors are logged; the next slot is
// still armed.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	after := s.After
	if after == nil {
		after = time.After
	}

	var last time.Time
	for {
		if err := ctx.Err(); err != nil {
			s.Log.Info().Msg("scheduler stopped")
			return err
		}
		at := s.Schedule.Next(now())
		if at.Equal(last) {
			at = s.Schedule.Next(at.Add(time.Minute))
		}
		s.Log.Info().Time("next_run", at).Msg("cycle scheduled")

		select {
		case <-ctx.Done():
			s.Log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-after(at.Sub(now())):
		}

		last = at
		if err := s.Job(ctx); err != nil {
			s.Log.Error().Err(err).Time("slot", at).Msg("scheduled cycle failed")
		}
	}
}

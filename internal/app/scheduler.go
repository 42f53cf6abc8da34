package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/inpatient"
	"github.com/hms/hms/pkg/calendar"
)

// Scheduler runs the once-a-day jobs at a fixed local wall-clock time:
// daily accrual for the day that just started, then the overdue sweep and
// NHIA authorization expiry.
type Scheduler struct {
	app    *App
	hour   int
	minute int
	log    zerolog.Logger
	now    func() time.Time
}

func NewScheduler(a *App, hour, minute int, logger zerolog.Logger) *Scheduler {
	return &Scheduler{app: a, hour: hour, minute: minute, log: logger, now: time.Now}
}

// NextRun is the first hour:minute in loc strictly after now.
func NextRun(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := NextRun(s.now(), s.app.Location, s.hour, s.minute)
		s.log.Info().Time("next_run", next).Msg("daily jobs scheduled")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.RunDaily(ctx, calendar.DateOf(next, s.app.Location)); err != nil {
			s.log.Error().Err(err).Msg("daily jobs failed")
		}
	}
}

// RunDaily performs one day's jobs. Each job is idempotent, so a rerun for
// the same day is safe.
func (s *Scheduler) RunDaily(ctx context.Context, day time.Time) error {
	report, err := s.app.Inpatient.DailyAccrualTick(ctx, day)
	if errors.Is(err, inpatient.ErrRunInProgress) {
		s.log.Info().Time("date", day).Msg("accrual owned by another worker")
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info().
		Time("date", report.Date).
		Int("charged", report.Charged).
		Int("failed", report.Failed).
		Str("total", report.Total.StringFixed(2)).
		Msg("scheduled accrual finished")

	overdue, err := s.app.Engine.MarkOverdue(ctx, day)
	if err != nil {
		s.log.Warn().Err(err).Msg("overdue sweep failed")
	} else if overdue > 0 {
		s.log.Info().Int("invoices", overdue).Msg("invoices marked overdue")
	}

	expired, err := s.app.Gate.ExpireStale(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("authorization expiry failed")
	} else if expired > 0 {
		s.log.Info().Int("codes", expired).Msg("nhia authorizations expired")
	}
	return nil
}

// Package scheduler drives the periodic work: per-user daily resets at
// local midnight, reminder delivery, participation activation and
// settlement. It ticks every minute and is safe to restart at any point;
// every pass is idempotent.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/db"
	"github.com/stridehq/stride/internal/engine"
	"github.com/stridehq/stride/internal/notify"
)

// Reminder lead times before a user's daily reset.
var reminderLeads = []time.Duration{6 * time.Hour, 2 * time.Hour}

const reminderRetention = 7 * 24 * time.Hour

// Scheduler owns the tick loop.
type Scheduler struct {
	db       *db.DB
	engine   *engine.Engine
	notifier engine.Notifier
	clock    engine.Clock
	log      *zap.Logger

	interval time.Duration

	// ticking guards against overlapping passes when one tick outlives
	// the interval.
	ticking atomic.Bool
}

// New creates a Scheduler. A nil notifier disables reminder delivery but
// not the rest of the cycle.
func New(database *db.DB, eng *engine.Engine, notifier engine.Notifier, clock engine.Clock, logger *zap.Logger, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = engine.SystemClock()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		db:       database,
		engine:   eng,
		notifier: notifier,
		clock:    clock,
		log:      logger,
		interval: interval,
	}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx, s.clock.Now()); err != nil && ctx.Err() == nil {
				s.log.Error("scheduler tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one full pass at the given instant. Overlapping calls are
// dropped, not queued.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Warn("tick still in progress, skipping")
		return nil
	}
	defer s.ticking.Store(false)

	now = now.UTC()
	today := engine.DateOf(now)

	if _, err := s.engine.ActivateScheduledParticipations(ctx, today); err != nil {
		return fmt.Errorf("activate participations: %w", err)
	}

	if err := s.deliverReminders(ctx, now); err != nil {
		return fmt.Errorf("deliver reminders: %w", err)
	}

	users, err := s.db.UsersDueForReset(now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("users due for reset: %w", err)
	}
	for i := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.resetUser(ctx, &users[i], now); err != nil {
			// One user's bad data must not stall everyone behind them.
			s.log.Error("user reset failed",
				zap.Int64("user", users[i].ID), zap.Error(err))
		}
	}

	if _, err := s.engine.FinalizeEndedParticipations(ctx, today); err != nil {
		return fmt.Errorf("finalize participations: %w", err)
	}

	cutoff := now.Add(-reminderRetention).Format(time.RFC3339)
	if _, err := s.db.PurgeRemindersBefore(cutoff); err != nil {
		return fmt.Errorf("purge reminders: %w", err)
	}
	return nil
}

// resetUser runs one user's daily cycle in their own timezone: catch the
// log history up, sweep what yesterday left open, schedule the next
// reset's reminders, and arm the next reset instant.
func (s *Scheduler) resetUser(ctx context.Context, u *db.User, now time.Time) error {
	loc := userLocation(u, s.log)
	localNow := now.In(loc)
	today := engine.DateOf(localNow)

	if _, err := s.engine.BackfillHabits(ctx, u.ID, today); err != nil {
		return fmt.Errorf("backfill habits: %w", err)
	}
	if _, err := s.engine.BackfillChallenges(ctx, u.ID, today); err != nil {
		return fmt.Errorf("backfill challenges: %w", err)
	}
	if _, err := s.engine.SweepMissedHabits(ctx, u.ID, today); err != nil {
		return fmt.Errorf("sweep habits: %w", err)
	}
	if _, err := s.engine.SweepMissedChallenges(ctx, u.ID, today); err != nil {
		return fmt.Errorf("sweep challenges: %w", err)
	}

	nextReset := nextLocalMidnight(localNow)
	if err := s.scheduleReminders(u, today, nextReset); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	at := nextReset.UTC().Format(time.RFC3339)
	if err := s.db.UpdateNextResetAt(u.ID, at); err != nil {
		return fmt.Errorf("arm next reset: %w", err)
	}

	s.log.Info("user reset",
		zap.Int64("user", u.ID),
		zap.String("date", engine.FormatDate(today)),
		zap.String("next_reset", at))
	return nil
}

// scheduleReminders inserts reminder rows ahead of the user's next reset
// for each commitment that has a log row today. Whether a reminder is
// actually sent is decided at delivery time, when the row may already be
// completed.
func (s *Scheduler) scheduleReminders(u *db.User, today time.Time, nextReset time.Time) error {
	date := engine.FormatDate(today)

	habitLogs, err := s.db.HabitLogsOn(u.ID, date)
	if err != nil {
		return err
	}
	challengeLogs, err := s.db.ChallengeLogsOn(u.ID, date)
	if err != nil {
		return err
	}

	for _, lead := range reminderLeads {
		sendAt := nextReset.Add(-lead).UTC().Format(time.RFC3339)
		for _, l := range habitLogs {
			if l.Status != engine.StatusRemaining {
				continue
			}
			if _, err := s.db.InsertReminder(&db.Reminder{
				UserID: u.ID, Kind: "habit", RefID: l.HabitID, SendAt: sendAt,
			}); err != nil {
				return err
			}
		}
		for _, l := range challengeLogs {
			if l.Status != engine.StatusRemaining {
				continue
			}
			if _, err := s.db.InsertReminder(&db.Reminder{
				UserID: u.ID, Kind: "challenge", RefID: l.ChallengeID, SendAt: sendAt,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// deliverReminders sends every due reminder whose commitment is still
// open on the user's current local date, and marks all of them handled
// either way.
func (s *Scheduler) deliverReminders(ctx context.Context, now time.Time) error {
	due, err := s.db.DueReminders(now.Format(time.RFC3339))
	if err != nil {
		return err
	}

	for _, r := range due {
		if err := s.deliverReminder(ctx, r, now); err != nil {
			s.log.Error("reminder delivery failed",
				zap.Int64("reminder", r.ID), zap.Error(err))
			continue
		}
		if err := s.db.MarkReminderSent(r.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) deliverReminder(ctx context.Context, r db.Reminder, now time.Time) error {
	if s.notifier == nil {
		return nil
	}

	u, err := s.db.GetUser(r.UserID)
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}
	loc := userLocation(u, s.log)
	localNow := now.In(loc)
	date := engine.FormatDate(engine.DateOf(localNow))

	title, body, open, err := s.reminderContent(r, date, localNow)
	if err != nil {
		return err
	}
	if !open {
		return nil
	}
	s.notifier.Notify(ctx, r.UserID, title, body)
	return nil
}

// reminderContent resolves the reminder against current state. open is
// false when the commitment no longer needs a nudge.
func (s *Scheduler) reminderContent(r db.Reminder, date string, localNow time.Time) (title, body string, open bool, err error) {
	hoursLeft := int(nextLocalMidnight(localNow).Sub(localNow).Hours())

	switch r.Kind {
	case "habit":
		h, err := s.db.GetHabit(r.RefID)
		if err != nil || h == nil {
			return "", "", false, err
		}
		logs, err := s.db.HabitLogsOn(r.UserID, date)
		if err != nil {
			return "", "", false, err
		}
		for _, l := range logs {
			if l.HabitID == r.RefID && l.Status == engine.StatusRemaining {
				return "Habit reminder", notify.ResetReminderBody("Habit", h.Title, hoursLeft), true, nil
			}
		}
		return "", "", false, nil

	case "challenge":
		c, err := s.db.GetChallenge(r.RefID)
		if err != nil || c == nil {
			return "", "", false, err
		}
		logs, err := s.db.ChallengeLogsOn(r.UserID, date)
		if err != nil {
			return "", "", false, err
		}
		for _, l := range logs {
			if l.ChallengeID == r.RefID && l.Status == engine.StatusRemaining {
				return "Challenge reminder", notify.ResetReminderBody("Challenge", c.Title, hoursLeft), true, nil
			}
		}
		return "", "", false, nil
	}
	return "", "", false, nil
}

// userLocation loads the user's IANA zone, falling back to UTC when the
// stored name doesn't resolve.
func userLocation(u *db.User, log *zap.Logger) *time.Location {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		log.Warn("unknown timezone, using UTC",
			zap.Int64("user", u.ID), zap.String("timezone", u.Timezone))
		return time.UTC
	}
	return loc
}

// nextLocalMidnight returns the first midnight after t in t's location.
func nextLocalMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/db"
)

// BackfillHabits materializes missing habit log rows for every date a
// habit was due, from where its history left off up to and including
// today. The insert is create-if-absent, so re-running for the same window
// is a no-op. Returns the number of rows created.
func (e *Engine) BackfillHabits(ctx context.Context, userID int64, today time.Time) (int, error) {
	today = DateOf(today)
	habits, err := e.db.ActiveHabits(userID, FormatDate(today))
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range habits {
		n, err := e.backfillHabit(ctx, &habits[i], today)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

func (e *Engine) backfillHabit(ctx context.Context, h *db.Habit, today time.Time) (int, error) {
	from, err := e.habitResumeDate(h)
	if err != nil {
		return 0, err
	}

	end := today
	if h.EndDate != nil {
		he, err := ParseDate(*h.EndDate)
		if err != nil {
			return 0, fmt.Errorf("habit %d end date: %w", h.ID, err)
		}
		if he.Before(end) {
			end = he
		}
	}

	created := 0
	for d := from; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		due, err := e.IsDue(h, d)
		if err != nil {
			return created, err
		}
		if !due {
			continue
		}
		inserted, err := e.db.CreateHabitLogIfAbsent(h.ID, h.UserID, FormatDate(d), StatusRemaining)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}

	if created > 0 {
		e.log.Debug("habit logs backfilled",
			zap.Int64("habit", h.ID), zap.Int64("user", h.UserID), zap.Int("created", created))
	}
	return created, nil
}

// habitResumeDate picks the first candidate date for a habit's backfill:
// the day after its newest log, or its start date when no logs exist yet.
func (e *Engine) habitResumeDate(h *db.Habit) (time.Time, error) {
	latest, err := e.db.LatestHabitLogDate(h.ID)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		start, err := ParseDate(h.StartDate)
		if err != nil {
			return time.Time{}, fmt.Errorf("habit %d start date: %w", h.ID, err)
		}
		return start, nil
	}
	d, err := ParseDate(*latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("habit %d latest log date: %w", h.ID, err)
	}
	return d.AddDate(0, 0, 1), nil
}

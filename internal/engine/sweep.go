package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepMissedHabits marks every habit log still remaining from a date
// before today as missed and applies the aggregated penalty in a single
// ledger call. Today's rows are untouched; the day isn't over yet.
// Returns the number of rows swept.
func (e *Engine) SweepMissedHabits(ctx context.Context, userID int64, today time.Time) (int, error) {
	stale, err := e.db.StaleRemainingHabitLogs(userID, FormatDate(DateOf(today)))
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(stale))
	for i, l := range stale {
		ids[i] = l.ID
	}
	if err := e.db.UpdateHabitLogStatusBulk(ids, StatusMissed); err != nil {
		return 0, err
	}

	// remaining→missed carries no streak or all-day terms, so the batch
	// penalty equals per-row application of the transition price.
	if err := e.AddXP(ctx, userID, len(stale)*MissedXP); err != nil {
		return len(stale), err
	}

	e.log.Info("stale habit logs swept",
		zap.Int64("user", userID), zap.Int("missed", len(stale)))
	return len(stale), nil
}

// SweepMissedChallenges does the same for challenge logs.
func (e *Engine) SweepMissedChallenges(ctx context.Context, userID int64, today time.Time) (int, error) {
	stale, err := e.db.StaleRemainingChallengeLogs(userID, FormatDate(DateOf(today)))
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(stale))
	for i, l := range stale {
		ids[i] = l.ID
	}
	if err := e.db.UpdateChallengeLogStatusBulk(ids, StatusMissed); err != nil {
		return 0, err
	}

	if err := e.AddXP(ctx, userID, len(stale)*MissedXP); err != nil {
		return len(stale), err
	}

	e.log.Info("stale challenge logs swept",
		zap.Int64("user", userID), zap.Int("missed", len(stale)))
	return len(stale), nil
}

package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/db"
)

// XP amounts awarded by the ledger. MissedXP is negative by definition.
const (
	LogXP            = 10
	WeeklyStreakXP   = 20
	AllDayXP         = 30
	MissedXP         = -5
	JoinChallengeXP  = 5
	ChallengeBonusXP = 50
)

// XPForLevel returns the XP required to advance out of the given level.
func XPForLevel(level int) int {
	return 100 * level
}

// AddXP applies a signed XP delta to a user and resolves level changes.
// Both current_xp and total_xp move by the full signed amount; current_xp
// may go negative, and levels never decrease. Concurrent calls for the
// same user are serialized.
func (e *Engine) AddXP(ctx context.Context, userID int64, amount int) error {
	if amount == 0 {
		return nil
	}

	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := e.db.GetUser(userID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	current, total, level := advance(u, amount)
	if err := e.db.UpdateUserXP(userID, current, total, level); err != nil {
		return err
	}

	e.logApplied(userID, amount, current, level)
	return nil
}

// AddXPKeyed applies a delta at most once per key. The journal insert and
// the user update commit in one transaction, so a replayed delivery either
// sees the whole adjustment or none of it; replays of a recorded key are
// silently dropped, which makes at-least-once job delivery safe.
func (e *Engine) AddXPKeyed(ctx context.Context, key string, userID int64, amount int) error {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	u, err := e.db.GetUser(userID)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	current, total, level := advance(u, amount)
	applied, err := e.db.ApplyXPAdjustment(key, userID, amount, current, total, level)
	if err != nil {
		return fmt.Errorf("record xp adjustment: %w", err)
	}
	if !applied {
		e.log.Debug("duplicate xp adjustment dropped",
			zap.String("key", key), zap.Int64("user", userID))
		return nil
	}

	e.logApplied(userID, amount, current, level)
	return nil
}

// advance computes a user's progress triple after a signed delta. Level-ups
// consume XP; each threshold grows with the level, so a large positive delta
// can clear several levels in one call.
func advance(u *db.User, amount int) (current, total, level int) {
	current = u.CurrentXP + amount
	total = u.TotalXP + amount
	level = u.Level
	for current >= XPForLevel(level) {
		current -= XPForLevel(level)
		level++
	}
	return current, total, level
}

func (e *Engine) logApplied(userID int64, amount, current, level int) {
	e.log.Info("xp applied",
		zap.Int64("user", userID),
		zap.Int("delta", amount),
		zap.Int("current_xp", current),
		zap.Int("level", level))
}

// Package worker holds the queue consumers: pricing status changes into
// XP ledger moves and fanning out challenge join events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/engine"
	"github.com/stridehq/stride/internal/queue"
)

// Worker consumes engine jobs. All handlers are idempotent: the job ID is
// the ledger key, so redelivery after a crash applies nothing twice.
type Worker struct {
	engine   *engine.Engine
	notifier engine.Notifier
	log      *zap.Logger
}

// New creates a Worker.
func New(eng *engine.Engine, notifier engine.Notifier, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{engine: eng, notifier: notifier, log: logger}
}

// Register wires the worker's handlers into the queue.
func (w *Worker) Register(q *queue.Queue) {
	q.Register(engine.TopicHabitXP, w.HandleHabitXP)
	q.Register(engine.TopicChallengeXP, w.HandleChallengeXP)
	q.Register(engine.TopicParticipantJoined, w.HandleParticipantJoined)
}

// HandleHabitXP prices a habit log status change and moves the ledger.
func (w *Worker) HandleHabitXP(ctx context.Context, job queue.Job) error {
	var sc engine.StatusChange
	if err := json.Unmarshal(job.Payload, &sc); err != nil {
		return fmt.Errorf("decode status change: %w", err)
	}

	logs, err := w.engine.DB().HabitLogs(sc.UserID, sc.RefID)
	if err != nil {
		return err
	}
	entries := engine.HabitEntries(logs)
	dayCtx, err := w.dayContext(sc)
	if err != nil {
		return err
	}
	// Both streaks substitute the edited row's status in memory rather
	// than trusting the stored row, so a racing later edit cannot skew
	// this job's pricing.
	dayCtx.NewStreak = engine.CurrentStreak(substitute(entries, sc.Date, sc.To))
	dayCtx.OldStreak = engine.CurrentStreak(substitute(entries, sc.Date, sc.From))

	delta := engine.TransitionDelta(engine.Transition{From: sc.From, To: sc.To}, dayCtx)
	if err := w.applyDelta(ctx, job.ID, sc.UserID, delta); err != nil {
		return err
	}

	w.log.Debug("habit xp priced",
		zap.Int64("log", sc.LogID),
		zap.String("from", sc.From),
		zap.String("to", sc.To),
		zap.Int("delta", delta))
	return nil
}

// HandleChallengeXP prices a challenge log status change.
func (w *Worker) HandleChallengeXP(ctx context.Context, job queue.Job) error {
	var sc engine.StatusChange
	if err := json.Unmarshal(job.Payload, &sc); err != nil {
		return fmt.Errorf("decode status change: %w", err)
	}

	logs, err := w.engine.DB().ChallengeLogs(sc.UserID, sc.RefID)
	if err != nil {
		return err
	}
	entries := engine.ChallengeEntries(logs)
	dayCtx, err := w.dayContext(sc)
	if err != nil {
		return err
	}
	dayCtx.NewStreak = engine.CurrentStreak(substitute(entries, sc.Date, sc.To))
	dayCtx.OldStreak = engine.CurrentStreak(substitute(entries, sc.Date, sc.From))

	delta := engine.TransitionDelta(engine.Transition{From: sc.From, To: sc.To}, dayCtx)
	if err := w.applyDelta(ctx, job.ID, sc.UserID, delta); err != nil {
		return err
	}

	w.log.Debug("challenge xp priced",
		zap.Int64("log", sc.LogID),
		zap.String("from", sc.From),
		zap.String("to", sc.To),
		zap.Int("delta", delta))
	return nil
}

// applyDelta moves the ledger. A user deleted between edit and delivery
// is logged and swallowed: the log-status change already stands and is
// never rolled back over lost bookkeeping.
func (w *Worker) applyDelta(ctx context.Context, key string, userID int64, delta int) error {
	err := w.engine.AddXPKeyed(ctx, key, userID, delta)
	if errors.Is(err, engine.ErrNotFound) {
		w.log.Warn("user vanished before xp applied",
			zap.Int64("user", userID), zap.String("key", key))
		return nil
	}
	return err
}

// dayContext counts the user's habit and challenge logs on the edited
// row's date, as stored now (after the edit).
func (w *Worker) dayContext(sc engine.StatusChange) (engine.DayContext, error) {
	var ctx engine.DayContext

	habitLogs, err := w.engine.DB().HabitLogsOn(sc.UserID, sc.Date)
	if err != nil {
		return ctx, err
	}
	for _, l := range habitLogs {
		ctx.LogsOnDate++
		if l.Status == engine.StatusCompleted {
			ctx.CompletedOnDate++
		}
	}

	challengeLogs, err := w.engine.DB().ChallengeLogsOn(sc.UserID, sc.Date)
	if err != nil {
		return ctx, err
	}
	for _, l := range challengeLogs {
		ctx.LogsOnDate++
		if l.Status == engine.StatusCompleted {
			ctx.CompletedOnDate++
		}
	}
	return ctx, nil
}

// substitute returns a copy of entries with the row for the given date set
// back to the pre-edit status, reconstructing the streak picture before
// the change.
func substitute(entries []engine.Entry, date, status string) []engine.Entry {
	out := make([]engine.Entry, len(entries))
	copy(out, entries)
	for i := range out {
		if out[i].Date == date {
			out[i].Status = status
			break
		}
	}
	return out
}

// Package engine implements the recurrence and progress core: deciding
// which commitments are due, materializing daily log rows, sweeping stale
// entries, deriving streaks, and moving the XP ledger in response to
// status transitions.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stridehq/stride/internal/db"
)

// Log statuses.
const (
	StatusRemaining = "remaining"
	StatusCompleted = "completed"
	StatusMissed    = "missed"
)

// Habit frequency policies.
const (
	FreqDaily       = "daily"
	FreqEveryNDays  = "every_n_days"
	FreqWeeklyQuota = "weekly_quota"
)

// Participation statuses.
const (
	ParticipationScheduled = "scheduled"
	ParticipationActive    = "active"
	ParticipationCompleted = "completed"
	ParticipationFailed    = "failed"
	ParticipationRetracted = "retracted"
)

// Queue topics.
const (
	TopicHabitXP           = "xp.habit"
	TopicChallengeXP       = "xp.challenge"
	TopicParticipantJoined = "participant.joined"
)

var (
	// ErrNotFound indicates a missing commitment, log, or user.
	ErrNotFound = errors.New("not found")

	// ErrInvalidStatus indicates a status outside remaining/completed/missed.
	ErrInvalidStatus = errors.New("invalid status")
)

// Enqueuer is the job-queue surface the engine needs. Delivery is
// asynchronous and at-least-once; Enqueue returns the job ID without
// blocking on completion.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier delivers a best-effort notification. Failures must be handled
// by the implementation (logged); they never propagate into engine state.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string)
}

// Clock abstracts wall-clock time so tests can pin "now".
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Engine holds the injected collaborators shared by the recurrence,
// backfill, sweep, and ledger operations.
type Engine struct {
	db    *db.DB
	queue Enqueuer
	log   *zap.Logger

	// userLocks serializes XP read-modify-write per user. Operations on
	// different users proceed in parallel.
	userLocks sync.Map // int64 -> *sync.Mutex
}

// New creates an Engine with the given storage, queue, and logger.
func New(database *db.DB, q Enqueuer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: database, queue: q, log: logger}
}

// DB exposes the underlying store for collaborators wired at startup.
func (e *Engine) DB() *db.DB { return e.db }

func (e *Engine) userLock(userID int64) *sync.Mutex {
	v, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// --- Calendar dates ---

// DateLayout is the storage format for calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a stored YYYY-MM-DD date into a UTC midnight instant.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders a time as a stored calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOf truncates an instant to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekBounds returns the Sunday and Saturday enclosing d.
func weekBounds(d time.Time) (time.Time, time.Time) {
	start := d.AddDate(0, 0, -int(d.Weekday()))
	return start, start.AddDate(0, 0, 6)
}

package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/db"
	"github.com/stridehq/stride/internal/engine"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type noQueue struct{}

func (noQueue) Enqueue(ctx context.Context, topic string, payload any) (string, error) {
	return "unused", nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Notify(ctx context.Context, userID int64, title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, title)
}

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *db.DB, *recordingNotifier) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	eng := engine.New(database, noQueue{}, nil)
	notifier := &recordingNotifier{}
	s := New(database, eng, notifier, &fakeClock{now: now}, nil, time.Minute)
	return s, database, notifier
}

func seedUser(t *testing.T, d *db.DB, tz string) int64 {
	t.Helper()
	id, err := d.InsertUser(&db.User{
		Username: "ana",
		Email:    "ana@example.com",
		Timezone: tz,
		Level:    1,
	})
	if err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	return id
}

func TestTickRunsFullResetCycle(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	s, d, _ := newTestScheduler(t, now)
	userID := seedUser(t, d, "UTC")

	habitID, err := d.InsertHabit(&db.Habit{
		UserID:        userID,
		Title:         "read",
		FrequencyType: engine.FreqDaily,
		StartDate:     "2026-08-01",
	})
	if err != nil {
		t.Fatalf("InsertHabit: %v", err)
	}

	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// Three rows backfilled; the two stale ones swept to missed.
	logs, err := d.HabitLogs(userID, habitID)
	if err != nil {
		t.Fatalf("HabitLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(logs))
	}
	byDate := map[string]string{}
	for _, l := range logs {
		byDate[l.Date] = l.Status
	}
	if byDate["2026-08-01"] != engine.StatusMissed || byDate["2026-08-02"] != engine.StatusMissed {
		t.Fatalf("stale rows not swept: %v", byDate)
	}
	if byDate["2026-08-03"] != engine.StatusRemaining {
		t.Fatalf("today's row disturbed: %v", byDate)
	}

	u, err := d.GetUser(userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.CurrentXP != 2*engine.MissedXP {
		t.Fatalf("current_xp = %d, want %d", u.CurrentXP, 2*engine.MissedXP)
	}
	if u.NextResetAt == nil || *u.NextResetAt != "2026-08-04T00:00:00Z" {
		t.Fatalf("next_reset_at = %v, want 2026-08-04T00:00:00Z", u.NextResetAt)
	}
}

func TestTickIsIdempotentWithinDay(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	s, d, _ := newTestScheduler(t, now)
	userID := seedUser(t, d, "UTC")
	if _, err := d.InsertHabit(&db.Habit{
		UserID:        userID,
		Title:         "read",
		FrequencyType: engine.FreqDaily,
		StartDate:     "2026-08-01",
	}); err != nil {
		t.Fatalf("InsertHabit: %v", err)
	}

	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	xpAfterFirst := currentXP(t, d, userID)

	// The user is armed for tomorrow; a second tick does nothing to them.
	if err := s.Tick(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if got := currentXP(t, d, userID); got != xpAfterFirst {
		t.Fatalf("second tick moved the ledger: %d -> %d", xpAfterFirst, got)
	}
}

func currentXP(t *testing.T, d *db.DB, userID int64) int {
	t.Helper()
	u, err := d.GetUser(userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	return u.CurrentXP
}

func TestNextResetFollowsTimezone(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	s, d, _ := newTestScheduler(t, now)
	// UTC+05:45; local time is 15:45, so the next local midnight is
	// 2026-08-04 00:00 +05:45 = 2026-08-03 18:15 UTC.
	userID := seedUser(t, d, "Asia/Kathmandu")

	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	u, err := d.GetUser(userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.NextResetAt == nil || *u.NextResetAt != "2026-08-03T18:15:00Z" {
		t.Fatalf("next_reset_at = %v, want 2026-08-03T18:15:00Z", u.NextResetAt)
	}
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	s, d, _ := newTestScheduler(t, now)
	userID := seedUser(t, d, "Mars/Olympus")

	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	u, err := d.GetUser(userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.NextResetAt == nil || *u.NextResetAt != "2026-08-04T00:00:00Z" {
		t.Fatalf("next_reset_at = %v, want UTC midnight", u.NextResetAt)
	}
}

func TestRemindersScheduledAndDelivered(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	s, d, notifier := newTestScheduler(t, now)
	userID := seedUser(t, d, "UTC")
	if _, err := d.InsertHabit(&db.Habit{
		UserID:        userID,
		Title:         "read",
		FrequencyType: engine.FreqDaily,
		StartDate:     "2026-08-03",
	}); err != nil {
		t.Fatalf("InsertHabit: %v", err)
	}

	// The reset pass schedules nudges at 6h and 2h before the next
	// midnight.
	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	due, err := d.DueReminders("2026-08-04T00:00:00Z")
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 reminder rows, got %d", len(due))
	}

	// At 18:30 the 6h reminder (18:00) is due; the habit is still open.
	if err := s.Tick(context.Background(), time.Date(2026, 8, 3, 18, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %v, want 1", notifier.sent)
	}

	// Complete the habit before the 2h reminder; it is suppressed but
	// still marked handled.
	logs, err := d.HabitLogsOn(userID, "2026-08-03")
	if err != nil {
		t.Fatalf("HabitLogsOn: %v", err)
	}
	if err := d.UpdateHabitLogStatus(logs[0].ID, engine.StatusCompleted); err != nil {
		t.Fatalf("UpdateHabitLogStatus: %v", err)
	}
	if err := s.Tick(context.Background(), time.Date(2026, 8, 3, 22, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("completed habit still nudged: %v", notifier.sent)
	}

	due, err = d.DueReminders("2026-08-04T00:00:00Z")
	if err != nil {
		t.Fatalf("DueReminders: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("reminders left unhandled: %d", len(due))
	}
}

func TestTickSettlesEndedParticipations(t *testing.T) {
	now := time.Date(2026, 8, 4, 1, 0, 0, 0, time.UTC)
	s, d, _ := newTestScheduler(t, now)
	userID := seedUser(t, d, "UTC")

	challengeID, err := d.InsertChallenge(&db.Challenge{Title: "pushups"})
	if err != nil {
		t.Fatalf("InsertChallenge: %v", err)
	}
	end := "2026-08-03"
	pid, err := d.InsertParticipation(&db.Participation{
		ChallengeID: challengeID,
		UserID:      userID,
		StartDate:   "2026-08-02",
		EndDate:     &end,
		Status:      engine.ParticipationActive,
	})
	if err != nil {
		t.Fatalf("InsertParticipation: %v", err)
	}
	for _, day := range []string{"2026-08-02", "2026-08-03"} {
		if _, err := d.CreateChallengeLogIfAbsent(challengeID, userID, day, engine.StatusCompleted); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	p, err := d.GetParticipation(pid)
	if err != nil {
		t.Fatalf("GetParticipation: %v", err)
	}
	if p.Status != engine.ParticipationCompleted {
		t.Fatalf("status = %q, want completed", p.Status)
	}
	if got := currentXP(t, d, userID); got != engine.ChallengeBonusXP {
		t.Fatalf("current_xp = %d, want %d", got, engine.ChallengeBonusXP)
	}
}

func TestTickActivatesScheduledParticipations(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	s, d, _ := newTestScheduler(t, now)
	userID := seedUser(t, d, "UTC")

	challengeID, err := d.InsertChallenge(&db.Challenge{Title: "pushups"})
	if err != nil {
		t.Fatalf("InsertChallenge: %v", err)
	}
	pid, err := d.InsertParticipation(&db.Participation{
		ChallengeID: challengeID,
		UserID:      userID,
		StartDate:   "2026-08-03",
		Status:      engine.ParticipationScheduled,
	})
	if err != nil {
		t.Fatalf("InsertParticipation: %v", err)
	}

	if err := s.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	p, err := d.GetParticipation(pid)
	if err != nil {
		t.Fatalf("GetParticipation: %v", err)
	}
	if p.Status != engine.ParticipationActive {
		t.Fatalf("status = %q, want active", p.Status)
	}

	// Activation happened before the reset pass, so the first daily row
	// exists already.
	logs, err := d.ChallengeLogs(userID, challengeID)
	if err != nil {
		t.Fatalf("ChallengeLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Date != "2026-08-03" {
		t.Fatalf("expected day-one row, got %+v", logs)
	}
}

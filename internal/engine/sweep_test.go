package engine

import (
	"context"
	"testing"

	"github.com/stridehq/stride/internal/db"
)

func TestSweepMissedHabits(t *testing.T) {
	e, d, _ := newTestEngine(t)
	userID := insertUser(t, d, "ana")
	habitID := insertHabit(t, d, &db.Habit{
		UserID:        userID,
		Title:         "read",
		FrequencyType: FreqDaily,
		StartDate:     "2026-08-01",
	})

	if _, err := e.BackfillHabits(context.Background(), userID, date(t, "2026-08-03")); err != nil {
		t.Fatalf("BackfillHabits: %v", err)
	}

	swept, err := e.SweepMissedHabits(context.Background(), userID, date(t, "2026-08-03"))
	if err != nil {
		t.Fatalf("SweepMissedHabits: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}

	logs, err := d.HabitLogs(userID, habitID)
	if err != nil {
		t.Fatalf("HabitLogs: %v", err)
	}
	for _, l := range logs {
		switch {
		case l.Date < "2026-08-03" && l.Status != StatusMissed:
			t.Fatalf("stale row %s not missed: %q", l.Date, l.Status)
		case l.Date == "2026-08-03" && l.Status != StatusRemaining:
			t.Fatalf("today's row was swept: %q", l.Status)
		}
	}

	u, err := d.GetUser(userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.CurrentXP != 2*MissedXP {
		t.Fatalf("current_xp = %d, want %d", u.CurrentXP, 2*MissedXP)
	}
}

func TestSweepMissedHabitsSkipsHandledRows(t *testing.T) {
	e, d, _ := newTestEngine(t)
	userID := insertUser(t, d, "ana")
	habitID := insertHabit(t, d, &db.Habit{
		UserID:        userID,
		Title:         "read",
		FrequencyType: FreqDaily,
		StartDate:     "2026-08-01",
	})

	if _, err := d.CreateHabitLogIfAbsent(habitID, userID, "2026-08-01", StatusCompleted); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := d.CreateHabitLogIfAbsent(habitID, userID, "2026-08-02", StatusMissed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	swept, err := e.SweepMissedHabits(context.Background(), userID, date(t, "2026-08-03"))
	if err != nil {
		t.Fatalf("SweepMissedHabits: %v", err)
	}
	if swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}

	u, err := d.GetUser(userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.CurrentXP != 0 {
		t.Fatalf("no-op sweep moved the ledger: %d", u.CurrentXP)
	}
}

func TestSweepMissedChallenges(t *testing.T) {
	e, d, _ := newTestEngine(t)
	userID := insertUser(t, d, "ana")
	challengeID, err := d.InsertChallenge(&db.Challenge{Title: "pushups"})
	if err != nil {
		t.Fatalf("InsertChallenge: %v", err)
	}
	for _, day := range []string{"2026-08-01", "2026-08-02"} {
		if _, err := d.CreateChallengeLogIfAbsent(challengeID, userID, day, StatusRemaining); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	swept, err := e.SweepMissedChallenges(context.Background(), userID, date(t, "2026-08-03"))
	if err != nil {
		t.Fatalf("SweepMissedChallenges: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}

	u, err := d.GetUser(userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.CurrentXP != 2*MissedXP {
		t.Fatalf("current_xp = %d, want %d", u.CurrentXP, 2*MissedXP)
	}
}

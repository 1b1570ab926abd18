package engine

import "testing"

func TestTransitionDeltaBasicCompletion(t *testing.T) {
	got := TransitionDelta(
		Transition{StatusRemaining, StatusCompleted},
		DayContext{NewStreak: 3, LogsOnDate: 2, CompletedOnDate: 1},
	)
	if got != LogXP {
		t.Fatalf("delta = %d, want %d", got, LogXP)
	}
}

func TestTransitionDeltaWeeklyStreakBonus(t *testing.T) {
	got := TransitionDelta(
		Transition{StatusRemaining, StatusCompleted},
		DayContext{NewStreak: 7, LogsOnDate: 2, CompletedOnDate: 1},
	)
	if got != LogXP+WeeklyStreakXP {
		t.Fatalf("delta = %d, want %d", got, LogXP+WeeklyStreakXP)
	}

	// Every multiple of seven, not just the first.
	got = TransitionDelta(
		Transition{StatusRemaining, StatusCompleted},
		DayContext{NewStreak: 14, LogsOnDate: 2, CompletedOnDate: 1},
	)
	if got != LogXP+WeeklyStreakXP {
		t.Fatalf("delta at 14 = %d, want %d", got, LogXP+WeeklyStreakXP)
	}
}

func TestTransitionDeltaAllDayBonus(t *testing.T) {
	got := TransitionDelta(
		Transition{StatusRemaining, StatusCompleted},
		DayContext{NewStreak: 1, LogsOnDate: 3, CompletedOnDate: 3},
	)
	if got != LogXP+AllDayXP {
		t.Fatalf("delta = %d, want %d", got, LogXP+AllDayXP)
	}
}

func TestTransitionDeltaNoAllDayBonusForSingleLog(t *testing.T) {
	// A date with a single commitment never pays the all-day bonus;
	// completing your only log of the day is just a completion.
	got := TransitionDelta(
		Transition{StatusRemaining, StatusCompleted},
		DayContext{NewStreak: 1, LogsOnDate: 1, CompletedOnDate: 1},
	)
	if got != LogXP {
		t.Fatalf("delta = %d, want %d", got, LogXP)
	}

	// And the reversal is guarded the same way.
	got = TransitionDelta(
		Transition{StatusCompleted, StatusMissed},
		DayContext{OldStreak: 1, LogsOnDate: 1, CompletedOnDate: 0},
	)
	if got != -LogXP+MissedXP {
		t.Fatalf("reversal delta = %d, want %d", got, -LogXP+MissedXP)
	}
}

func TestTransitionDeltaMissedReversesBonuses(t *testing.T) {
	// The completion earned LogXP + weekly (the edit broke the 7-run,
	// leaving 2) + all-day. Marking it missed reverses all three and
	// applies the penalty. After the edit the row is no longer completed,
	// so CompletedOnDate is one short of LogsOnDate.
	got := TransitionDelta(
		Transition{StatusCompleted, StatusMissed},
		DayContext{OldStreak: 7, NewStreak: 2, LogsOnDate: 3, CompletedOnDate: 2},
	)
	want := -LogXP + MissedXP - WeeklyStreakXP - AllDayXP
	if got != want {
		t.Fatalf("delta = %d, want %d", got, want)
	}
}

func TestTransitionDeltaWeeklyReversalNeedsBrokenBoundary(t *testing.T) {
	// Editing a completed row deep in history can leave the current
	// streak untouched; no boundary broke, so no bonus comes back.
	got := TransitionDelta(
		Transition{StatusCompleted, StatusMissed},
		DayContext{OldStreak: 7, NewStreak: 7, LogsOnDate: 1, CompletedOnDate: 0},
	)
	if got != -LogXP+MissedXP {
		t.Fatalf("delta = %d, want %d", got, -LogXP+MissedXP)
	}

	// A streak falling to another multiple of seven broke no boundary
	// either.
	got = TransitionDelta(
		Transition{StatusCompleted, StatusMissed},
		DayContext{OldStreak: 14, NewStreak: 0, LogsOnDate: 1, CompletedOnDate: 0},
	)
	if got != -LogXP+MissedXP {
		t.Fatalf("delta = %d, want %d", got, -LogXP+MissedXP)
	}
}

func TestTransitionDeltaSweepPenalty(t *testing.T) {
	got := TransitionDelta(Transition{StatusRemaining, StatusMissed}, DayContext{})
	if got != MissedXP {
		t.Fatalf("delta = %d, want %d", got, MissedXP)
	}
}

func TestTransitionDeltaMissedToCompletedIsPlainCompletion(t *testing.T) {
	// Completing a previously missed row pays the completion award only;
	// the earlier penalty is not undone by this path.
	got := TransitionDelta(
		Transition{StatusMissed, StatusCompleted},
		DayContext{NewStreak: 1, LogsOnDate: 5, CompletedOnDate: 1},
	)
	if got != LogXP {
		t.Fatalf("delta = %d, want %d", got, LogXP)
	}
}

func TestTransitionDeltaCompletedToRemainingIsFree(t *testing.T) {
	got := TransitionDelta(
		Transition{StatusCompleted, StatusRemaining},
		DayContext{OldStreak: 7, LogsOnDate: 3, CompletedOnDate: 2},
	)
	if got != 0 {
		t.Fatalf("delta = %d, want 0", got)
	}
}

func TestTransitionDeltaSelfIsZero(t *testing.T) {
	for _, s := range []string{StatusRemaining, StatusCompleted, StatusMissed} {
		if got := TransitionDelta(Transition{s, s}, DayContext{NewStreak: 7}); got != 0 {
			t.Fatalf("self transition %s priced %d", s, got)
		}
	}
}

func TestTransitionCycleNetsZero(t *testing.T) {
	// remaining → completed → missed → remaining must leave the ledger
	// exactly where it started, bonuses included.
	ctxUp := DayContext{NewStreak: 3, LogsOnDate: 2, CompletedOnDate: 2}
	ctxDown := DayContext{OldStreak: 3, NewStreak: 0, LogsOnDate: 2, CompletedOnDate: 1}

	sum := TransitionDelta(Transition{StatusRemaining, StatusCompleted}, ctxUp) +
		TransitionDelta(Transition{StatusCompleted, StatusMissed}, ctxDown) +
		TransitionDelta(Transition{StatusMissed, StatusRemaining}, DayContext{})
	if sum != 0 {
		t.Fatalf("cycle nets %d, want 0", sum)
	}
}

package engine

// DayContext carries the derived facts a transition is priced against:
// streak lengths before and after the edit, and the completion picture of
// the edited row's calendar date across all of the user's commitments.
type DayContext struct {
	OldStreak int
	NewStreak int

	// LogsOnDate / CompletedOnDate count the user's habit and challenge
	// log rows on the edited row's date, with CompletedOnDate reflecting
	// the state AFTER the edit.
	LogsOnDate      int
	CompletedOnDate int
}

// Transition identifies a status change.
type Transition struct {
	From, To string
}

// TransitionDelta prices a status transition. Completing earns the log
// award plus streak and all-day bonuses; marking a completed row missed
// reverses exactly what the completion earned, plus the penalty; the
// batch sweep's remaining→missed carries the flat penalty and
// missed→remaining undoes it. Every other transition moves no XP, and a
// full remaining→completed→missed→remaining cycle nets zero.
func TransitionDelta(t Transition, ctx DayContext) int {
	if t.From == t.To {
		return 0
	}

	if t.To == StatusCompleted {
		delta := LogXP
		// Weekly streak bonus every 7th consecutive completion.
		if ctx.NewStreak > 0 && ctx.NewStreak%7 == 0 {
			delta += WeeklyStreakXP
		}
		// All-day bonus when this completion closes out a date with more
		// than one commitment on it.
		if ctx.LogsOnDate > 1 && ctx.CompletedOnDate == ctx.LogsOnDate {
			delta += AllDayXP
		}
		return delta
	}

	switch t {
	case Transition{StatusCompleted, StatusMissed}:
		delta := -LogXP + MissedXP
		// Reverse the weekly bonus only when this edit broke the streak
		// boundary that earned it; an edit leaving the streak at another
		// multiple of seven broke nothing.
		if ctx.OldStreak > ctx.NewStreak && ctx.OldStreak%7 == 0 && ctx.NewStreak%7 != 0 {
			delta -= WeeklyStreakXP
		}
		// The all-day bonus held before this edit iff every other row on
		// the multi-commitment date is still completed.
		if ctx.LogsOnDate > 1 && ctx.CompletedOnDate == ctx.LogsOnDate-1 {
			delta -= AllDayXP
		}
		return delta

	case Transition{StatusRemaining, StatusMissed}:
		return MissedXP

	case Transition{StatusMissed, StatusRemaining}:
		return -MissedXP
	}

	return 0
}

package engine

import (
	"sort"

	"github.com/stridehq/stride/internal/db"
)

// Entry is the minimal log view the streak math needs. Both habit and
// challenge log rows project onto it.
type Entry struct {
	Date   string // YYYY-MM-DD
	Status string
}

// HabitEntries projects habit log rows onto streak entries.
func HabitEntries(logs []db.HabitLog) []Entry {
	out := make([]Entry, len(logs))
	for i, l := range logs {
		out[i] = Entry{Date: l.Date, Status: l.Status}
	}
	return out
}

// ChallengeEntries projects challenge log rows onto streak entries.
func ChallengeEntries(logs []db.ChallengeLog) []Entry {
	out := make([]Entry, len(logs))
	for i, l := range logs {
		out[i] = Entry{Date: l.Date, Status: l.Status}
	}
	return out
}

// CurrentStreak counts consecutive completed entries starting from the
// most recent scheduled one. Entries must be ordered newest first; any
// non-completed entry, including one still remaining, ends the streak.
func CurrentStreak(entries []Entry) int {
	streak := 0
	for _, e := range entries {
		if e.Status != StatusCompleted {
			break
		}
		streak++
	}
	return streak
}

// MaxStreak returns the longest run of consecutive completed entries over
// the full history, in scheduled order. Input order does not matter.
func MaxStreak(entries []Entry) int {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	max, run := 0, 0
	for _, e := range sorted {
		if e.Status == StatusCompleted {
			run++
			if run > max {
				max = run
			}
		} else {
			run = 0
		}
	}
	return max
}

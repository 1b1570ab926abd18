package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stridehq/stride/internal/db"
)

// IsDue reports whether a habit calls for a log entry on the given date.
// The date must already fall inside the habit's [start, end] window; callers
// iterating a range check that cheaply themselves, but IsDue re-verifies so
// a stray call can't schedule outside the window.
func (e *Engine) IsDue(h *db.Habit, date time.Time) (bool, error) {
	start, err := ParseDate(h.StartDate)
	if err != nil {
		return false, fmt.Errorf("habit %d start date: %w", h.ID, err)
	}
	if date.Before(start) {
		return false, nil
	}
	if h.EndDate != nil {
		end, err := ParseDate(*h.EndDate)
		if err != nil {
			return false, fmt.Errorf("habit %d end date: %w", h.ID, err)
		}
		if date.After(end) {
			return false, nil
		}
	}

	switch h.FrequencyType {
	case FreqDaily:
		return true, nil

	case FreqEveryNDays:
		n := 1
		if h.FrequencyValue != nil && *h.FrequencyValue > 0 {
			n = *h.FrequencyValue
		}
		days := int(date.Sub(start).Hours() / 24)
		return days%n == 0, nil

	case FreqWeeklyQuota:
		days, err := frequencyDays(h)
		if err != nil {
			return false, err
		}
		if len(days) > 0 {
			// Fixed weekday set: due exactly on those weekdays.
			wd := int(date.Weekday())
			for _, d := range days {
				if d == wd {
					return true, nil
				}
			}
			return false, nil
		}
		// Adaptive quota: due while this week's completions are still
		// short of the target. Weeks run Sunday through Saturday.
		quota := 1
		if h.FrequencyValue != nil && *h.FrequencyValue > 0 {
			quota = *h.FrequencyValue
		}
		weekStart, weekEnd := weekBounds(date)
		done, err := e.db.CompletedHabitLogCount(h.ID, FormatDate(weekStart), FormatDate(weekEnd))
		if err != nil {
			return false, err
		}
		return done < quota, nil

	default:
		return false, fmt.Errorf("habit %d: unknown frequency type %q", h.ID, h.FrequencyType)
	}
}

// frequencyDays decodes the habit's weekday set. Nil or empty means the
// habit uses the adaptive quota instead.
func frequencyDays(h *db.Habit) ([]int, error) {
	if h.FrequencyDays == nil || *h.FrequencyDays == "" {
		return nil, nil
	}
	var days []int
	if err := json.Unmarshal([]byte(*h.FrequencyDays), &days); err != nil {
		return nil, fmt.Errorf("habit %d frequency days: %w", h.ID, err)
	}
	return days, nil
}

// Package schedule decides whether a view is currently eligible for display.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/redisplay/server/internal/domain"
)

// IsEligible reports whether the view's schedule rule permits display at now.
// A view without a rule is always eligible. Day and hour restrictions, when
// both present, must independently hold.
func IsEligible(v *domain.View, now time.Time) bool {
	rule := v.Metadata.Schedule
	if rule == nil {
		return true
	}

	if len(rule.Days) > 0 && !dayMatches(rule.Days, now.Weekday()) {
		return false
	}

	if len(rule.Hours) > 0 && !hourMatches(rule.Hours, now) {
		return false
	}

	return true
}

func dayMatches(days []string, weekday time.Weekday) bool {
	current := strings.ToLower(weekday.String()[:3])
	for _, d := range days {
		if len(d) >= 3 && strings.ToLower(d[:3]) == current {
			return true
		}
	}
	return false
}

func hourMatches(ranges []domain.HourRange, now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()
	for _, r := range ranges {
		from, okFrom := parseClock(r.From)
		to, okTo := parseClock(r.To)
		if !okFrom || !okTo {
			continue
		}
		if from > to {
			// Wraps midnight: active outside [to, from).
			if minute >= from || minute < to {
				return true
			}
			continue
		}
		if minute >= from && minute < to {
			return true
		}
	}
	return false
}

// parseClock converts "HH:MM" to minute-of-day.
func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return 0, false
	}
	return hour*60 + min, true
}

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redisplay/server/internal/domain"
)

// resolveDelay computes how long a view stays on screen before rotation.
// Precedence: the view's rotate_after (absolute milliseconds), then its
// rotate_at (clock time or relative duration), then the channel fallback.
// The second return is false when no delay applies and no timer should be armed.
func resolveDelay(md domain.ViewMetadata, fallbackMillis int64, now time.Time) (time.Duration, bool) {
	if md.RotateAfter > 0 {
		return time.Duration(md.RotateAfter) * time.Millisecond, true
	}
	if md.RotateAt != "" {
		d, err := ParseRotateAt(md.RotateAt, now)
		if err == nil {
			return d, true
		}
	}
	if fallbackMillis > 0 {
		return time.Duration(fallbackMillis) * time.Millisecond, true
	}
	return 0, false
}

// ParseRotateAt resolves a rotate_at expression against now.
// "HH:MM" resolves to the next occurrence of that wall-clock time, possibly
// tomorrow. "+30s", "5m", "1h" resolve directly as relative durations.
func ParseRotateAt(expr string, now time.Time) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty rotate_at expression")
	}

	if hour, minute, ok := splitClock(expr); ok {
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next.Sub(now), nil
	}

	d, err := time.ParseDuration(strings.TrimPrefix(expr, "+"))
	if err != nil {
		return 0, fmt.Errorf("invalid rotate_at expression %q: %w", expr, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("rotate_at duration must be positive, got %q", expr)
	}
	return d, nil
}

func splitClock(s string) (hour, minute int, ok bool) {
	before, after, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(before)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(after)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

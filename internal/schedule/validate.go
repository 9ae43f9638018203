package schedule

import (
	"fmt"
	"strings"

	"github.com/redisplay/server/internal/domain"
)

var weekdays = map[string]struct{}{
	"mon": {}, "tue": {}, "wed": {}, "thu": {}, "fri": {}, "sat": {}, "sun": {},
}

// ValidateRule checks that every day name and hour range in the rule is
// well-formed. A nil rule is valid.
func ValidateRule(rule *domain.ScheduleRule) error {
	if rule == nil {
		return nil
	}
	for _, d := range rule.Days {
		if len(d) < 3 {
			return fmt.Errorf("unknown day %q", d)
		}
		if _, ok := weekdays[strings.ToLower(d[:3])]; !ok {
			return fmt.Errorf("unknown day %q", d)
		}
	}
	for _, r := range rule.Hours {
		if _, ok := parseClock(r.From); !ok {
			return fmt.Errorf("invalid hour %q", r.From)
		}
		if _, ok := parseClock(r.To); !ok {
			return fmt.Errorf("invalid hour %q", r.To)
		}
	}
	return nil
}

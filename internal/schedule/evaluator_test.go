package schedule

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/redisplay/server/internal/domain"
)

func viewWithSchedule(rule *domain.ScheduleRule) *domain.View {
	return &domain.View{
		ID:       "test-view",
		Metadata: domain.ViewMetadata{Type: domain.ViewTypeText, Schedule: rule},
	}
}

// at builds a timestamp on a fixed week: 2024-01-01 is a Monday.
func at(weekday time.Weekday, hour, minute int) time.Time {
	day := 1 + (int(weekday)+6)%7
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func TestIsEligible_NoSchedule(t *testing.T) {
	v := viewWithSchedule(nil)
	assert.True(t, IsEligible(v, at(time.Monday, 0, 0)))
	assert.True(t, IsEligible(v, at(time.Sunday, 23, 59)))
}

func TestIsEligible_Days(t *testing.T) {
	tests := []struct {
		name string
		days []string
		now  time.Time
		want bool
	}{
		{"matching day", []string{"mon", "wed"}, at(time.Wednesday, 12, 0), true},
		{"non-matching day", []string{"mon", "wed"}, at(time.Tuesday, 12, 0), false},
		{"case insensitive", []string{"SAT", "Sun"}, at(time.Saturday, 9, 0), true},
		{"full day names accepted", []string{"monday"}, at(time.Monday, 9, 0), true},
		{"garbage entry ignored", []string{"xx", "fri"}, at(time.Friday, 9, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viewWithSchedule(&domain.ScheduleRule{Days: tt.days})
			assert.Equal(t, tt.want, IsEligible(v, tt.now))
		})
	}
}

func TestIsEligible_Hours(t *testing.T) {
	tests := []struct {
		name  string
		hours []domain.HourRange
		now   time.Time
		want  bool
	}{
		{"inside range", []domain.HourRange{{From: "09:00", To: "17:00"}}, at(time.Monday, 12, 30), true},
		{"before range", []domain.HourRange{{From: "09:00", To: "17:00"}}, at(time.Monday, 8, 59), false},
		{"at start inclusive", []domain.HourRange{{From: "09:00", To: "17:00"}}, at(time.Monday, 9, 0), true},
		{"at end exclusive", []domain.HourRange{{From: "09:00", To: "17:00"}}, at(time.Monday, 17, 0), false},
		{"second range matches", []domain.HourRange{{From: "06:00", To: "08:00"}, {From: "18:00", To: "22:00"}}, at(time.Monday, 19, 0), true},
		{"midnight wrap evening side", []domain.HourRange{{From: "22:00", To: "06:00"}}, at(time.Monday, 23, 30), true},
		{"midnight wrap morning side", []domain.HourRange{{From: "22:00", To: "06:00"}}, at(time.Monday, 5, 59), true},
		{"midnight wrap excluded middle", []domain.HourRange{{From: "22:00", To: "06:00"}}, at(time.Monday, 12, 0), false},
		{"unparsable range never matches", []domain.HourRange{{From: "morning", To: "noon"}}, at(time.Monday, 12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viewWithSchedule(&domain.ScheduleRule{Hours: tt.hours})
			assert.Equal(t, tt.want, IsEligible(v, tt.now))
		})
	}
}

func TestIsEligible_DaysAndHoursAreANDed(t *testing.T) {
	v := viewWithSchedule(&domain.ScheduleRule{
		Days:  []string{"mon"},
		Hours: []domain.HourRange{{From: "09:00", To: "17:00"}},
	})

	assert.True(t, IsEligible(v, at(time.Monday, 10, 0)))
	assert.False(t, IsEligible(v, at(time.Monday, 18, 0)), "day matches, hour does not")
	assert.False(t, IsEligible(v, at(time.Tuesday, 10, 0)), "hour matches, day does not")
}

func TestIsEligible_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// Arbitrary instants up to year 2100.
	genTime := gen.Int64Range(0, 4102444800).Map(func(s int64) time.Time {
		return time.Unix(s, 0).UTC()
	})

	properties.Property("no schedule is always eligible", prop.ForAll(
		func(now time.Time) bool {
			return IsEligible(viewWithSchedule(nil), now)
		},
		genTime,
	))

	properties.Property("a wrapping range is the complement of the reversed range", prop.ForAll(
		func(now time.Time, fromH, fromM, toH, toM int) bool {
			from := clock(fromH, fromM)
			to := clock(toH, toM)
			if from == to {
				return true // degenerate: empty window either way
			}
			straight := viewWithSchedule(&domain.ScheduleRule{Hours: []domain.HourRange{{From: from, To: to}}})
			reversed := viewWithSchedule(&domain.ScheduleRule{Hours: []domain.HourRange{{From: to, To: from}}})
			return IsEligible(straight, now) != IsEligible(reversed, now)
		},
		genTime,
		gen.IntRange(0, 23), gen.IntRange(0, 59),
		gen.IntRange(0, 23), gen.IntRange(0, 59),
	))

	properties.TestingRun(t)
}

func clock(h, m int) string {
	return time.Date(2000, 1, 1, h, m, 0, 0, time.UTC).Format("15:04")
}

// Package schedule computes when a scheduled automation fires next.
package schedule

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/autorun-api/internal/models"
)

const timeOfDayLayout = "15:04"

// NextRun returns the next firing time of s relative to now, in UTC.
// A nil result means the schedule never fires again (a "once" schedule
// whose time has passed). A candidate equal to now counts as passed.
//
// Monthly schedules advance with time.AddDate, so month-end days roll
// into the following month (Oct 31 + 1 month is Dec 1).
func NextRun(s models.Schedule, now time.Time) (*time.Time, error) {
	loc := loadLocation(s.Timezone)

	tod, err := time.Parse(timeOfDayLayout, strings.TrimSpace(s.Time))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid time of day %q", s.Time)
	}

	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour(), tod.Minute(), 0, 0, loc)
	passed := !candidate.After(local)

	switch s.Type {
	case models.ScheduleOnce:
		if passed {
			return nil, nil
		}
	case models.ScheduleDaily:
		if passed {
			candidate = candidate.AddDate(0, 0, 1)
		}
	case models.ScheduleWeekly:
		days := weekdaySet(s.Days)
		switch {
		case len(days) == 0:
			if passed {
				candidate = candidate.AddDate(0, 0, 7)
			}
		case passed:
			candidate = nextMatchingDay(candidate, days)
		default:
			if _, ok := days[candidate.Weekday()]; !ok {
				candidate = nextMatchingDay(candidate, days)
			}
		}
	case models.ScheduleMonthly:
		if passed {
			candidate = candidate.AddDate(0, 1, 0)
		}
	default:
		return nil, errors.Errorf("unknown schedule type %q", s.Type)
	}

	next := candidate.UTC()
	return &next, nil
}

// nextMatchingDay scans one to seven days past candidate for an allowed
// weekday and falls back to a week later.
func nextMatchingDay(candidate time.Time, days map[time.Weekday]struct{}) time.Time {
	for i := 1; i <= 7; i++ {
		next := candidate.AddDate(0, 0, i)
		if _, ok := days[next.Weekday()]; ok {
			return next
		}
	}
	return candidate.AddDate(0, 0, 7)
}

func weekdaySet(days []int) map[time.Weekday]struct{} {
	set := make(map[time.Weekday]struct{}, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			continue
		}
		set[time.Weekday(d)] = struct{}{}
	}
	return set
}

// loadLocation resolves an IANA zone, treating empty or unknown names as UTC.
func loadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks a schedule before it is stored.
func Validate(s models.Schedule) error {
	switch s.Type {
	case models.ScheduleOnce, models.ScheduleDaily, models.ScheduleWeekly, models.ScheduleMonthly:
	default:
		return errors.Errorf("unknown schedule type %q", s.Type)
	}
	if _, err := time.Parse(timeOfDayLayout, strings.TrimSpace(s.Time)); err != nil {
		return errors.Errorf("time must be HH:MM, got %q", s.Time)
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return errors.Errorf("weekday %d out of range 0-6", d)
		}
	}
	return nil
}

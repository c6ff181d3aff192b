package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestNextRun(t *testing.T) {
	// 2025-06-03 is a Tuesday.
	tuesday10 := utc(2025, time.June, 3, 10, 0)
	tuesday08 := utc(2025, time.June, 3, 8, 0)

	cases := []struct {
		name     string
		schedule models.Schedule
		now      time.Time
		want     *time.Time
	}{
		{
			name:     "once in the future",
			schedule: models.Schedule{Type: models.ScheduleOnce, Time: "12:00"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 3, 12, 0)),
		},
		{
			name:     "once already passed never fires",
			schedule: models.Schedule{Type: models.ScheduleOnce, Time: "09:00"},
			now:      tuesday10,
			want:     nil,
		},
		{
			name:     "candidate equal to now counts as passed",
			schedule: models.Schedule{Type: models.ScheduleDaily, Time: "10:00"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 4, 10, 0)),
		},
		{
			name:     "daily later today",
			schedule: models.Schedule{Type: models.ScheduleDaily, Time: "18:30"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 3, 18, 30)),
		},
		{
			name:     "daily passed moves to tomorrow",
			schedule: models.Schedule{Type: models.ScheduleDaily, Time: "09:00"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 4, 9, 0)),
		},
		{
			name:     "weekly Tuesday after the hour picks Wednesday",
			schedule: models.Schedule{Type: models.ScheduleWeekly, Time: "09:00", Days: []int{1, 3, 5}},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 4, 9, 0)),
		},
		{
			name:     "weekly before the hour on an unscheduled day still skips it",
			schedule: models.Schedule{Type: models.ScheduleWeekly, Time: "09:00", Days: []int{1, 3, 5}},
			now:      tuesday08,
			want:     ptr(utc(2025, time.June, 4, 9, 0)),
		},
		{
			name:     "weekly before the hour on a scheduled day fires today",
			schedule: models.Schedule{Type: models.ScheduleWeekly, Time: "09:00", Days: []int{2}},
			now:      tuesday08,
			want:     ptr(utc(2025, time.June, 3, 9, 0)),
		},
		{
			name:     "weekly single day passed wraps a full week",
			schedule: models.Schedule{Type: models.ScheduleWeekly, Time: "09:00", Days: []int{2}},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 10, 9, 0)),
		},
		{
			name:     "weekly without days passed adds seven days",
			schedule: models.Schedule{Type: models.ScheduleWeekly, Time: "09:00"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 10, 9, 0)),
		},
		{
			name:     "weekly without days in the future stays today",
			schedule: models.Schedule{Type: models.ScheduleWeekly, Time: "11:00"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 3, 11, 0)),
		},
		{
			name:     "monthly passed advances a month",
			schedule: models.Schedule{Type: models.ScheduleMonthly, Time: "09:00"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.July, 3, 9, 0)),
		},
		{
			// Nov 31 normalizes to Dec 1.
			name:     "monthly on the 31st rolls over a 30-day month",
			schedule: models.Schedule{Type: models.ScheduleMonthly, Time: "09:00"},
			now:      utc(2025, time.October, 31, 10, 0),
			want:     ptr(utc(2025, time.December, 1, 9, 0)),
		},
		{
			// Feb 31 2027 normalizes to Mar 3.
			name:     "monthly on the 31st rolls over February",
			schedule: models.Schedule{Type: models.ScheduleMonthly, Time: "09:00"},
			now:      utc(2027, time.January, 31, 10, 0),
			want:     ptr(utc(2027, time.March, 3, 9, 0)),
		},
		{
			name:     "unknown timezone falls back to UTC",
			schedule: models.Schedule{Type: models.ScheduleDaily, Time: "12:00", Timezone: "Mars/Olympus"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 3, 12, 0)),
		},
		{
			// 10:00 UTC is 06:00 in New York during DST.
			name:     "timezone shifts the candidate day",
			schedule: models.Schedule{Type: models.ScheduleDaily, Time: "09:00", Timezone: "America/New_York"},
			now:      tuesday10,
			want:     ptr(utc(2025, time.June, 3, 13, 0)),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextRun(tc.schedule, tc.now)
			require.NoError(t, err)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tc.want.Equal(*got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestNextRunIsDeterministic(t *testing.T) {
	s := models.Schedule{Type: models.ScheduleWeekly, Time: "09:00", Days: []int{1, 3, 5}, Timezone: "Europe/Berlin"}
	now := utc(2025, time.June, 3, 10, 0)

	first, err := NextRun(s, now)
	require.NoError(t, err)
	second, err := NextRun(s, now)
	require.NoError(t, err)
	assert.Equal(t, *first, *second)
}

func TestNextRunRejectsBadInput(t *testing.T) {
	_, err := NextRun(models.Schedule{Type: models.ScheduleDaily, Time: "9am"}, time.Now())
	assert.Error(t, err)

	_, err = NextRun(models.Schedule{Type: "hourly", Time: "09:00"}, time.Now())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(models.Schedule{Type: models.ScheduleWeekly, Time: "09:00", Days: []int{0, 6}}))
	assert.Error(t, Validate(models.Schedule{Type: models.ScheduleWeekly, Time: "09:00", Days: []int{7}}))
	assert.Error(t, Validate(models.Schedule{Type: models.ScheduleDaily, Time: "25:00"}))
	assert.Error(t, Validate(models.Schedule{Type: "yearly", Time: "09:00"}))
}

func ptr(t time.Time) *time.Time { return &t }

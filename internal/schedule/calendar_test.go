package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

func TestDeriveTimezone(t *testing.T) {
	cases := []struct {
		country, city, want string
	}{
		{"Germany", "", "Europe/Berlin"},
		{"de", "", "Europe/Berlin"},
		{"United States", "", "America/New_York"},
		{"us", "San Francisco", "America/Los_Angeles"}, // city wins over country
		{"Australia", "Perth", "Australia/Perth"},
		{"Atlantis", "", "UTC"},
		{"", "", "UTC"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveTimezone(tc.country, tc.city),
			"country=%q city=%q", tc.country, tc.city)
	}
}

func TestLocationForFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, LocationFor(""))
	assert.Equal(t, time.UTC, LocationFor("Not/AZone"))
	assert.Equal(t, "Europe/Berlin", LocationFor("Europe/Berlin").String())
}

func TestIsWorkingDay(t *testing.T) {
	s := domain.DefaultSettings()

	monday := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	assert.True(t, IsWorkingDay(monday, s))
	assert.False(t, IsWorkingDay(saturday, s))

	s.PausedDates = []string{"2026-03-02"}
	assert.False(t, IsWorkingDay(monday, s))
}

func TestIsWithinBusinessHours(t *testing.T) {
	s := domain.DefaultSettings() // 9..18

	// 08:00 UTC is 09:00 in Berlin: inside there, outside in UTC.
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	assert.True(t, IsWithinBusinessHours(at, "Europe/Berlin", s))
	assert.False(t, IsWithinBusinessHours(at, "UTC", s))

	// End hour is exclusive.
	end := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	assert.False(t, IsWithinBusinessHours(end, "UTC", s))
}

func TestNextWorkingDaySkipsWeekendAndPauses(t *testing.T) {
	s := domain.DefaultSettings()

	friday := time.Date(2026, 3, 6, 17, 50, 0, 0, time.UTC)
	next, err := NextWorkingDay(friday, s, s.BusinessHours.StartHour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC), next)

	s.PausedDates = []string{"2026-03-09"}
	next, err = NextWorkingDay(friday, s, s.BusinessHours.StartHour)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), next)
}

func TestNextWorkingDayGivesUpOnDegenerateSettings(t *testing.T) {
	s := domain.DefaultSettings()
	s.BusinessHours.WeekendDays = []int{0, 1, 2, 3, 4, 5, 6}

	_, err := NextWorkingDay(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), s, 9)
	assert.Error(t, err)
}

func TestWindowMath(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 7, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), WindowStart(at, 15))
	assert.Equal(t, time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC), NextWindowBoundary(at, 15))

	// Already on a boundary: unchanged.
	boundary := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, boundary, NextWindowBoundary(boundary, 15))

	// Zero window falls back to 15 minutes.
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), WindowStart(at, 0))
}

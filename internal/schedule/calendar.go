// Package schedule answers calendar questions for the scheduler: is a
// moment a working day, is it inside business hours in a lead's timezone,
// and what is the next valid slot. All business-hour comparisons in the
// engine go through this package.
package schedule

import (
	"fmt"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// Clock abstracts the wall clock so schedulers and tests share one time
// source.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }

// FixedClock is a test clock pinned at a single instant.
type FixedClock struct{ At time.Time }

// Now returns the pinned instant.
func (f FixedClock) Now() time.Time { return f.At }

// LocationFor resolves an IANA timezone name, falling back to UTC on any
// failure so a bad lead record can never stall scheduling.
func LocationFor(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InLeadTime converts an instant to the lead's local time.
func InLeadTime(t time.Time, tz string) time.Time {
	return t.In(LocationFor(tz))
}

// IsWorkingDay reports whether t (already in the lead's location) falls on
// a working day: not a configured weekend day and not a paused date.
func IsWorkingDay(t time.Time, s *domain.Settings) bool {
	if s.BusinessHours.IsWeekend(t.Weekday()) {
		return false
	}
	return !s.IsPausedDate(t)
}

// IsWithinBusinessHours reports whether the instant, viewed in the lead's
// timezone, is inside [startHour, endHour).
func IsWithinBusinessHours(t time.Time, tz string, s *domain.Settings) bool {
	h := InLeadTime(t, tz).Hour()
	return h >= s.BusinessHours.StartHour && h < s.BusinessHours.EndHour
}

// NextWorkingDay advances from the given moment by whole days until it
// lands on a working day, then pins the clock to startHour. It gives up
// after a year, which only happens with degenerate settings.
func NextWorkingDay(from time.Time, s *domain.Settings, startHour int) (time.Time, error) {
	t := from
	for i := 0; i < 366; i++ {
		t = t.AddDate(0, 0, 1)
		if IsWorkingDay(t, s) {
			return time.Date(t.Year(), t.Month(), t.Day(), startHour, 0, 0, 0, t.Location()), nil
		}
	}
	return time.Time{}, fmt.Errorf("no working day within a year of %s", from.Format("2006-01-02"))
}

// AtStartHour returns the same calendar day at the business start hour.
func AtStartHour(t time.Time, s *domain.Settings) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), s.BusinessHours.StartHour, 0, 0, 0, t.Location())
}

// NextWindowBoundary rounds t up to the next rate-limit window boundary.
// A moment already on a boundary is returned unchanged.
func NextWindowBoundary(t time.Time, windowMinutes int) time.Time {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	w := time.Duration(windowMinutes) * time.Minute
	rounded := t.Truncate(w)
	if rounded.Equal(t) {
		return t
	}
	return rounded.Add(w)
}

// WindowStart returns the epoch-aligned start of the window containing t.
func WindowStart(t time.Time, windowMinutes int) time.Time {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	w := time.Duration(windowMinutes) * time.Minute
	return t.Truncate(w)
}

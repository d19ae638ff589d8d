package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
)

// maxSlotAttempts bounds the FCFS search to roughly three days of windows.
const maxSlotAttempts = 200

// ErrNoSlot is returned when the search horizon is exhausted. It surfaces
// to the user only through a reschedule_failed notification.
var ErrNoSlot = fmt.Errorf("no available slot within search horizon")

// FindNextSlot returns the first instant at or after minTime that falls on
// a working day inside business hours in the lead's timezone and still has
// rate-limit capacity. The instant is window-aligned and never in the past.
func (e *Engine) FindNextSlot(ctx context.Context, leadTz string, minTime time.Time, s *domain.Settings) (time.Time, error) {
	loc := schedule.LocationFor(leadTz)
	now := e.clock.Now()

	t := minTime
	if t.Before(now) {
		t = now
	}
	t = schedule.NextWindowBoundary(t, s.RateLimit.WindowMinutes).In(loc)

	for attempt := 0; attempt < maxSlotAttempts; attempt++ {
		if !schedule.IsWorkingDay(t, s) {
			next, err := schedule.NextWorkingDay(t, s, s.BusinessHours.StartHour)
			if err != nil {
				return time.Time{}, err
			}
			t = next
			continue
		}
		if t.Hour() < s.BusinessHours.StartHour {
			t = schedule.AtStartHour(t, s)
			continue
		}
		if t.Hour() >= s.BusinessHours.EndHour {
			next, err := schedule.NextWorkingDay(t, s, s.BusinessHours.StartHour)
			if err != nil {
				return time.Time{}, err
			}
			t = next
			continue
		}

		cap, err := e.limiter.GetSlotCapacity(ctx, t.UTC(), s)
		if err != nil {
			return time.Time{}, fmt.Errorf("slot capacity probe: %w", err)
		}
		if cap.Available > 0 {
			return t.UTC(), nil
		}
		t = t.Add(s.RateLimit.Window())
	}
	return time.Time{}, ErrNoSlot
}

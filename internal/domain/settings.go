package domain

import "time"

// BusinessHours defines the local-time send window for every lead.
type BusinessHours struct {
	StartHour   int   `json:"start_hour" yaml:"start_hour"`
	EndHour     int   `json:"end_hour" yaml:"end_hour"`
	WeekendDays []int `json:"weekend_days" yaml:"weekend_days"`
}

// IsWeekend reports whether the weekday (time.Weekday numbering, Sunday=0)
// is configured as a weekend day.
func (b BusinessHours) IsWeekend(d time.Weekday) bool {
	for _, w := range b.WeekendDays {
		if int(d) == w {
			return true
		}
	}
	return false
}

// RateLimitSettings is the shared per-window send quota.
type RateLimitSettings struct {
	EmailsPerWindow int `json:"emails_per_window" yaml:"emails_per_window"`
	WindowMinutes   int `json:"window_minutes" yaml:"window_minutes"`
}

// Window returns the window duration.
func (r RateLimitSettings) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// RetrySettings controls automatic rescheduling of failed sends.
type RetrySettings struct {
	MaxAttempts          int            `json:"max_attempts" yaml:"max_attempts"`
	SoftBounceDelayHours int            `json:"soft_bounce_delay_hours" yaml:"soft_bounce_delay_hours"`
	PerType              map[string]int `json:"per_type,omitempty" yaml:"per_type"`
}

// FollowupStep is one ordered step of the followup sequence.
type FollowupStep struct {
	Name       string         `json:"name"`
	Enabled    bool           `json:"enabled"`
	Skipped    bool           `json:"skipped"`
	DelayDays  int            `json:"delay_days"`
	TemplateID string         `json:"template_id,omitempty"`
	Order      int            `json:"order"`
	Condition  *StepCondition `json:"condition,omitempty"`
}

// Settings is the singleton of runtime-mutable engine configuration. It is
// persisted as a single JSONB row and cached briefly by readers.
type Settings struct {
	BusinessHours BusinessHours     `json:"business_hours"`
	RateLimit     RateLimitSettings `json:"rate_limit"`
	Retry         RetrySettings     `json:"retry"`
	PausedDates   []string          `json:"paused_dates"` // YYYY-MM-DD
	Followups     []FollowupStep    `json:"followups"`
}

// DefaultSettings returns the engine defaults applied when no settings row
// exists yet.
func DefaultSettings() *Settings {
	return &Settings{
		BusinessHours: BusinessHours{StartHour: 9, EndHour: 18, WeekendDays: []int{0, 6}},
		RateLimit:     RateLimitSettings{EmailsPerWindow: 10, WindowMinutes: 15},
		Retry:         RetrySettings{MaxAttempts: 3, SoftBounceDelayHours: 2},
	}
}

// IsPausedDate reports whether the calendar date of t (already in the
// lead's location) is configured as paused.
func (s *Settings) IsPausedDate(t time.Time) bool {
	d := t.Format("2006-01-02")
	for _, p := range s.PausedDates {
		if p == d {
			return true
		}
	}
	return false
}

// MaxRetriesFor resolves the retry budget for a mail type: per-type
// override, then the global max, then 3.
func (s *Settings) MaxRetriesFor(mailType string) int {
	if n, ok := s.Retry.PerType[mailType]; ok && n > 0 {
		return n
	}
	if s.Retry.MaxAttempts > 0 {
		return s.Retry.MaxAttempts
	}
	return 3
}

// EnabledFollowups returns the enabled, non-globally-skipped steps in
// sequence order.
func (s *Settings) EnabledFollowups() []FollowupStep {
	var out []FollowupStep
	for _, f := range s.Followups {
		if f.Enabled && !f.Skipped {
			out = append(out, f)
		}
	}
	// Steps are stored ordered, but user edits can leave gaps.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Order < out[j-1].Order; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

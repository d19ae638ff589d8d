package lead

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
	"github.com/crewviateam/lead-flow-server-sub000/internal/pkg/logger"
	"github.com/crewviateam/lead-flow-server-sub000/internal/repository/postgres"
	"github.com/crewviateam/lead-flow-server-sub000/internal/schedule"
)

// Service implements lead business logic. It validates at the boundary and
// delegates journey work to the scheduler engine.
type Service struct {
	repo      Repository
	scheduler Scheduler
}

// NewService creates a lead service.
func NewService(repo Repository, scheduler Scheduler) *Service {
	return &Service{repo: repo, scheduler: scheduler}
}

// Get returns a single lead.
func (s *Service) Get(ctx context.Context, id string) (*domain.Lead, error) {
	l, err := s.repo.Get(ctx, id)
	if errors.Is(err, postgres.ErrNotFound) {
		return nil, ErrNotFound
	}
	return l, err
}

// Import creates leads in bulk and schedules each new lead's initial email.
// Existing emails are skipped, not errors: re-importing a list is routine.
func (s *Service) Import(ctx context.Context, inputs []ImportInput) (*ImportResult, error) {
	result := &ImportResult{}
	for _, in := range inputs {
		email := strings.TrimSpace(strings.ToLower(in.Email))
		if email == "" || !strings.Contains(email, "@") {
			result.Errors = append(result.Errors, "invalid email: "+in.Email)
			continue
		}

		if _, err := s.repo.GetByEmail(ctx, email); err == nil {
			result.Skipped++
			continue
		} else if !errors.Is(err, postgres.ErrNotFound) {
			return result, err
		}

		tz := in.Timezone
		if tz == "" {
			tz = schedule.DeriveTimezone(in.Country, in.City)
		}
		id, err := s.repo.Create(ctx, &domain.Lead{
			Email:            email,
			Name:             in.Name,
			Country:          in.Country,
			City:             in.City,
			Timezone:         tz,
			Tags:             in.Tags,
			SkippedFollowups: in.SkippedFollowups,
		})
		if err != nil {
			result.Errors = append(result.Errors, "create "+email+": "+err.Error())
			continue
		}
		result.Imported++

		if err := s.scheduler.ScheduleNextEmail(ctx, id); err != nil {
			logger.Warn("initial scheduling failed on import", "lead_id", id, "error", err.Error())
			continue
		}
		result.Scheduled++
	}
	logger.Info("lead import finished",
		"imported", result.Imported, "skipped", result.Skipped, "scheduled", result.Scheduled)
	return result, nil
}

// Freeze suspends a lead until the given time. Active jobs are cancelled;
// the resolver keeps the lead in frozen until the time passes.
func (s *Service) Freeze(ctx context.Context, id string, until time.Time) error {
	l, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.IsTerminal() {
		return ErrTerminal
	}
	if !until.After(time.Now().UTC()) {
		return ErrInvalidFreeze
	}
	if err := s.scheduler.CancelAllActive(ctx, id, "", "lead frozen"); err != nil {
		return err
	}
	if err := s.repo.SetFrozenUntil(ctx, id, &until); err != nil {
		return err
	}
	return s.scheduler.SyncLead(ctx, id, "lead frozen")
}

// Unfreeze lifts a freeze and restarts the sequence.
func (s *Service) Unfreeze(ctx context.Context, id string) error {
	l, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.IsTerminal() {
		return ErrTerminal
	}
	if err := s.repo.SetFrozenUntil(ctx, id, nil); err != nil {
		return err
	}
	if err := s.scheduler.SyncLead(ctx, id, "lead unfrozen"); err != nil {
		return err
	}
	return s.scheduler.ScheduleNextEmail(ctx, id)
}

// Convert marks the lead as won and stops all scheduling.
func (s *Service) Convert(ctx context.Context, id string) error {
	l, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.IsTerminal() {
		return ErrTerminal
	}
	if err := s.scheduler.CancelAllActive(ctx, id, "", "lead converted"); err != nil {
		return err
	}
	if err := s.repo.SetConverted(ctx, id); err != nil {
		return err
	}
	return s.scheduler.SyncLead(ctx, id, "lead converted")
}

// Resurrect reopens a dead lead and restarts its journey. Unsubscribed and
// complaint leads stay closed.
func (s *Service) Resurrect(ctx context.Context, id string) error {
	l, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	switch l.TerminalState {
	case domain.TerminalDead:
	case domain.TerminalNone:
		return ErrNotDead
	default:
		return ErrTerminal
	}
	if err := s.repo.Resurrect(ctx, id); err != nil {
		return err
	}
	logger.Info("lead resurrected", "lead_id", id)
	return s.scheduler.ScheduleNextEmail(ctx, id)
}

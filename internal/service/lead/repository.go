package lead

import (
	"context"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// Repository defines the data access contract for leads.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single lead.
	Get(ctx context.Context, id string) (*domain.Lead, error)

	// GetByEmail returns the lead with this email, case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.Lead, error)

	// Create inserts a new lead and returns its ID.
	Create(ctx context.Context, l *domain.Lead) (string, error)

	// SetFrozenUntil freezes or unfreezes (nil) the lead.
	SetFrozenUntil(ctx context.Context, id string, until *time.Time) error

	// SetConverted marks the lead converted.
	SetConverted(ctx context.Context, id string) error

	// Resurrect reopens a dead lead. Fails for any other terminal state.
	Resurrect(ctx context.Context, id string) error
}

// Scheduler is the slice of the engine the lead service needs: kicking off
// a journey after import or resurrect, and shutting one down on freeze.
type Scheduler interface {
	ScheduleNextEmail(ctx context.Context, leadID string) error
	CancelAllActive(ctx context.Context, leadID, exceptJobID, reason string) error
	SyncLead(ctx context.Context, leadID, reason string) error
}

// ImportInput is one lead to import.
type ImportInput struct {
	Email            string   `json:"email"`
	Name             string   `json:"name"`
	Country          string   `json:"country"`
	City             string   `json:"city"`
	Timezone         string   `json:"timezone"`
	Tags             []string `json:"tags"`
	SkippedFollowups []string `json:"skipped_followups"`
}

// ImportResult summarizes a batch import.
type ImportResult struct {
	Imported  int      `json:"imported"`
	Skipped   int      `json:"skipped"`
	Scheduled int      `json:"scheduled"`
	Errors    []string `json:"errors,omitempty"`
}

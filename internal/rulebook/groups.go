package rulebook

import "github.com/crewviateam/lead-flow-server-sub000/internal/domain"

// Status groups. These getters are the only sanctioned way for queries
// elsewhere in the engine to enumerate job statuses; SQL callers interpolate
// them via pq.Array rather than hand-writing IN lists.

// ActiveStatuses are jobs still awaiting delivery. Paused is deliberately
// excluded: a paused job does not count against the one-active-job
// invariant.
func (r *Rulebook) ActiveStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobPending, domain.JobQueued, domain.JobScheduled,
		domain.JobRescheduled, domain.JobDeferred,
	}
}

// InProgressStatuses are jobs that hold (or held) a rate-limit slot in
// their window: everything active plus already-sent.
func (r *Rulebook) InProgressStatuses() []domain.JobStatus {
	return append(r.ActiveStatuses(), domain.JobSent)
}

// RetriableStatuses are failure states a manual or automatic retry may
// recover from.
func (r *Rulebook) RetriableStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobSoftBounce, domain.JobDeferred, domain.JobFailed, domain.JobError,
	}
}

// FailureStatuses are hard failures requiring intervention.
func (r *Rulebook) FailureStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobHardBounce, domain.JobBlocked, domain.JobSpam,
		domain.JobInvalid, domain.JobError, domain.JobFailed,
	}
}

// AwaitingDeliveryStatuses are sent but not yet confirmed delivered.
func (r *Rulebook) AwaitingDeliveryStatuses() []domain.JobStatus {
	return []domain.JobStatus{domain.JobSent}
}

// SuccessfullySentStatuses are jobs that reached the recipient.
func (r *Rulebook) SuccessfullySentStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobSent, domain.JobDelivered, domain.JobOpened,
		domain.JobUniqueOpened, domain.JobClicked,
	}
}

// CompletedHistoryStatuses are statuses that close out a step for sequence
// resolution: reached the recipient, or explicitly skipped.
func (r *Rulebook) CompletedHistoryStatuses() []domain.JobStatus {
	return append(r.SuccessfullySentStatuses(), domain.JobSkipped)
}

// ExistingNonCancelledStatuses cover the duplicate-job check: any job in
// one of these states blocks a new job of the same type.
func (r *Rulebook) ExistingNonCancelledStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobPending, domain.JobQueued, domain.JobScheduled,
		domain.JobRescheduled, domain.JobDeferred, domain.JobPaused,
		domain.JobSent, domain.JobDelivered, domain.JobOpened,
		domain.JobUniqueOpened, domain.JobClicked,
	}
}

// TerminalLeadEmailStatuses are job statuses that end the lead's journey.
func (r *Rulebook) TerminalLeadEmailStatuses() []domain.JobStatus {
	return []domain.JobStatus{
		domain.JobUnsubscribed, domain.JobComplaint, domain.JobDead, domain.JobSpam,
	}
}

// IsActive reports membership in ActiveStatuses.
func (r *Rulebook) IsActive(s domain.JobStatus) bool {
	return contains(r.ActiveStatuses(), s)
}

// IsRetriable reports membership in RetriableStatuses.
func (r *Rulebook) IsRetriable(s domain.JobStatus) bool {
	return contains(r.RetriableStatuses(), s)
}

// IsFailure reports membership in FailureStatuses.
func (r *Rulebook) IsFailure(s domain.JobStatus) bool {
	return contains(r.FailureStatuses(), s)
}

// IsSuccessfullySent reports membership in SuccessfullySentStatuses.
func (r *Rulebook) IsSuccessfullySent(s domain.JobStatus) bool {
	return contains(r.SuccessfullySentStatuses(), s)
}

// IsTerminal reports whether a status admits no further transitions other
// than the dead path.
func (r *Rulebook) IsTerminal(s domain.JobStatus) bool {
	switch s {
	case domain.JobCancelled, domain.JobSkipped, domain.JobDead,
		domain.JobUnsubscribed, domain.JobComplaint,
		domain.JobHardBounce, domain.JobBlocked, domain.JobSpam, domain.JobInvalid:
		return true
	}
	return false
}

// StatusStrings converts a status group to plain strings for pq.Array.
func StatusStrings(in []domain.JobStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func contains(set []domain.JobStatus, s domain.JobStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

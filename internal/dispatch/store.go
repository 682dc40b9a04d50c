package dispatch

import (
	"context"
	"time"
)

// Store persists Job and Result rows and implements the atomic operations
// the state machine depends on. Dispatch is the sole writer of these
// tables.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error
	FindJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, accountID string, limit int) ([]Job, error)

	// PullAndAssign atomically selects up to maxBatch PENDING jobs for
	// accountID with earliestExecutionTime<=now, ordered by
	// (priority DESC, createdAt ASC, jobId ASC), transitions each to
	// ASSIGNED, and returns the transitioned rows. Implementations must
	// make the PENDING->ASSIGNED compare-and-swap atomic per row so
	// concurrent pullers never both win the same job.
	PullAndAssign(ctx context.Context, agentID, accountID string, maxBatch int, now time.Time) ([]Job, error)

	// TransitionToExecuting moves a job ASSIGNED->EXECUTING iff owned by
	// agentID, returning ErrInvalidState/ErrForbidden otherwise.
	TransitionToExecuting(ctx context.Context, agentID, jobID string, startedAt time.Time) (*Job, error)

	// FindResult returns the existing Result for jobID, or ErrNotFound.
	FindResult(ctx context.Context, jobID string) (*Result, error)

	// CommitResult atomically inserts Result and transitions the owning Job
	// to a terminal state, unless a Result already exists (idempotent:
	// implementations must return the existing Result without mutating
	// anything in that case).
	CommitResult(ctx context.Context, agentID string, r *Result) (*Result, error)
	ListResults(ctx context.Context, accountID string, limit int) ([]Result, error)
}

// RiskOracle is the minimal surface dispatch needs from the Risk Oracle.
type RiskOracle interface {
	IsExecutionAllowed(ctx context.Context, accountID string) (allowed bool, reason string, err error)
}

// AccountLookup is the minimal surface dispatch needs from the Account
// Registry to validate job creation.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (AccountView, error)
}

// AccountView decouples dispatch from account's concrete struct.
type AccountView struct {
	ID     string
	UserID string
}

// AccountReporter carries the SESSION_EXPIRED side effect back to the
// Account Registry (spec §4.4).
type AccountReporter interface {
	MarkSessionExpired(ctx context.Context, accountID string) error
}

// RiskReporter carries the SESSION_EXPIRED side effect back to the Risk
// Oracle as a recorded violation.
type RiskReporter interface {
	RecordSessionExpiredViolation(ctx context.Context, accountID, jobID string) error
}

// AuditSink is the minimal surface dispatch needs to record events.
type AuditSink interface {
	Append(ctx context.Context, domain, eventType, entityType, entityID, actorType, actorID string, payload map[string]any) error
}

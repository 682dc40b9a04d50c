package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatchd.dev/internal/ids"
)

const auditDomain = "dispatch"

// Service implements the Job Dispatcher (spec §4.4), the central piece
// managing eligibility, assignment, the state machine, and the atomic
// result-commit operation.
type Service struct {
	store    Store
	risk     RiskOracle
	accounts AccountLookup
	acctRep  AccountReporter
	riskRep  RiskReporter
	audit    AuditSink
	now      func() time.Time
}

// NewService constructs a Service. acctRep and riskRep may be nil in tests
// that don't exercise the SESSION_EXPIRED side effects.
func NewService(store Store, risk RiskOracle, accounts AccountLookup, acctRep AccountReporter, riskRep RiskReporter, audit AuditSink) (*Service, error) {
	if store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if risk == nil || accounts == nil {
		return nil, errors.New("dispatch: risk oracle and account lookup are required")
	}
	return &Service{
		store:    store,
		risk:     risk,
		accounts: accounts,
		acctRep:  acctRep,
		riskRep:  riskRep,
		audit:    audit,
		now:      time.Now,
	}, nil
}

// CreateJob validates the referenced account and user, persists the job in
// state PENDING, and emits an Audit entry.
func (s *Service) CreateJob(ctx context.Context, accountID, createdByUserID string, jobType JobType, parameters map[string]any, priority int, earliestExecutionTime time.Time, timeoutSeconds int) (Job, error) {
	accountID = strings.TrimSpace(accountID)
	createdByUserID = strings.TrimSpace(createdByUserID)
	if accountID == "" || createdByUserID == "" {
		return Job{}, fmt.Errorf("%w: account_id and created_by_user_id are required", ErrInvalidInput)
	}
	if err := validateJobType(jobType); err != nil {
		return Job{}, err
	}
	if timeoutSeconds <= 0 {
		return Job{}, fmt.Errorf("%w: timeout_seconds must be positive", ErrInvalidInput)
	}
	if earliestExecutionTime.IsZero() {
		earliestExecutionTime = s.now().UTC()
	}

	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Job{}, err
	}
	if acc.UserID != createdByUserID {
		return Job{}, ErrForbidden
	}

	if parameters == nil {
		parameters = map[string]any{}
	}
	now := s.now().UTC()
	j := &Job{
		ID:                    ids.New(),
		AccountID:             accountID,
		CreatedByUserID:       createdByUserID,
		Type:                  jobType,
		Parameters:            parameters,
		State:                 StatePending,
		Priority:              priority,
		EarliestExecutionTime: earliestExecutionTime.UTC(),
		TimeoutSeconds:        timeoutSeconds,
		CreatedAt:             now,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return Job{}, err
	}
	s.appendAudit(ctx, "job.created", j.ID, "User", createdByUserID, map[string]any{"type": string(jobType), "priority": priority})
	return *j, nil
}

// PullJobs consults the Risk Oracle first; if disallowed it returns an
// empty batch without touching any job row. Otherwise it atomically
// transitions up to maxBatch eligible PENDING jobs to ASSIGNED and returns
// them, ordered by (priority DESC, createdAt ASC, jobId ASC).
func (s *Service) PullJobs(ctx context.Context, agentID, accountID string, maxBatch int) ([]Job, error) {
	agentID = strings.TrimSpace(agentID)
	accountID = strings.TrimSpace(accountID)
	if agentID == "" || accountID == "" {
		return nil, fmt.Errorf("%w: agent_id and account_id are required", ErrInvalidInput)
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}

	allowed, _, err := s.risk.IsExecutionAllowed(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	jobs, err := s.store.PullAndAssign(ctx, agentID, accountID, maxBatch, s.now().UTC())
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.appendAudit(ctx, "job.assigned", j.ID, "Agent", agentID, map[string]any{"account_id": accountID})
	}
	return jobs, nil
}

// RecordEvent appends an agent-reported lifecycle event. On ACTION_STARTED
// for a job currently ASSIGNED to agentID, the job transitions to
// EXECUTING. Events for a job not assigned to the reporting agent are
// rejected.
func (s *Service) RecordEvent(ctx context.Context, agentID, jobID string, eventType EventType, message string, ts time.Time) error {
	agentID = strings.TrimSpace(agentID)
	jobID = strings.TrimSpace(jobID)
	if agentID == "" || jobID == "" {
		return fmt.Errorf("%w: agent_id and job_id are required", ErrInvalidInput)
	}
	if err := validateEventType(eventType); err != nil {
		return err
	}
	job, err := s.store.FindJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.AssignedAgentID == nil || *job.AssignedAgentID != agentID {
		return ErrForbidden
	}

	if eventType == EventActionStarted && job.State == StateAssigned {
		if ts.IsZero() {
			ts = s.now().UTC()
		}
		if _, err := s.store.TransitionToExecuting(ctx, agentID, jobID, ts.UTC()); err != nil {
			return err
		}
	}
	s.appendAudit(ctx, "job.event", jobID, "Agent", agentID, map[string]any{
		"event_type": string(eventType),
		"message":    message,
	})
	return nil
}

// SubmitResult is the idempotent atomic commit point: if a Result already
// exists for jobID it is returned verbatim without mutation. Otherwise a
// Result is inserted and the Job advances to its terminal state in the
// same atomic step.
func (s *Service) SubmitResult(ctx context.Context, agentID, jobID string, status ResultStatus, failureReason *FailureReason, observedState *ObservedState) (Result, error) {
	agentID = strings.TrimSpace(agentID)
	jobID = strings.TrimSpace(jobID)
	if agentID == "" || jobID == "" {
		return Result{}, fmt.Errorf("%w: agent_id and job_id are required", ErrInvalidInput)
	}
	if err := validateResultStatus(status); err != nil {
		return Result{}, err
	}

	if existing, err := s.store.FindResult(ctx, jobID); err == nil {
		return *existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Result{}, err
	}

	job, err := s.store.FindJob(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if job.AssignedAgentID == nil {
		// No agent has claimed the job yet (still PENDING): a state violation.
		return Result{}, ErrInvalidState
	}
	if *job.AssignedAgentID != agentID {
		return Result{}, ErrForbidden
	}
	if job.State != StateAssigned && job.State != StateExecuting {
		return Result{}, ErrInvalidState
	}

	r := &Result{
		ID:            ids.New(),
		JobID:         jobID,
		AgentID:       agentID,
		Status:        status,
		ObservedState: observedState,
		FailureReason: failureReason,
		CompletedAt:   s.now().UTC(),
	}
	committed, err := s.store.CommitResult(ctx, agentID, r)
	if err != nil {
		return Result{}, err
	}

	s.appendAudit(ctx, "job.result_committed", jobID, "Agent", agentID, map[string]any{"status": string(status)})

	if failureReason != nil && *failureReason == FailureSessionExpired {
		s.reportSessionExpired(ctx, job.AccountID, jobID)
	}

	return *committed, nil
}

func (s *Service) reportSessionExpired(ctx context.Context, accountID, jobID string) {
	if s.acctRep != nil {
		_ = s.acctRep.MarkSessionExpired(ctx, accountID)
	}
	if s.riskRep != nil {
		_ = s.riskRep.RecordSessionExpiredViolation(ctx, accountID, jobID)
	}
}

// ListJobs is a read-only projection for the control plane.
func (s *Service) ListJobs(ctx context.Context, accountID string, limit int) ([]Job, error) {
	return s.store.ListJobs(ctx, strings.TrimSpace(accountID), limit)
}

// ListResults is a read-only projection for the control plane.
func (s *Service) ListResults(ctx context.Context, accountID string, limit int) ([]Result, error) {
	return s.store.ListResults(ctx, strings.TrimSpace(accountID), limit)
}

func (s *Service) appendAudit(ctx context.Context, eventType, entityID, actorType, actorID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Append(ctx, auditDomain, eventType, "job", entityID, actorType, actorID, payload)
}

func validateJobType(t JobType) error {
	switch t {
	case JobVisitProfile, JobSendConnectionReq, JobLikePost, JobCommentPost, JobSendMessage:
		return nil
	default:
		return fmt.Errorf("%w: unsupported job type %s", ErrInvalidInput, t)
	}
}

func validateEventType(t EventType) error {
	switch t {
	case EventActionStarted, EventActionCompleted, EventWarning, EventInfo:
		return nil
	default:
		return fmt.Errorf("%w: unsupported event type %s", ErrInvalidInput, t)
	}
}

func validateResultStatus(s ResultStatus) error {
	switch s {
	case ResultSuccess, ResultFailed, ResultSkipped:
		return nil
	default:
		return fmt.Errorf("%w: unsupported result status %s", ErrInvalidInput, s)
	}
}

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeRisk struct {
	allowed bool
	reason  string
}

func (f *fakeRisk) IsExecutionAllowed(ctx context.Context, accountID string) (bool, string, error) {
	return f.allowed, f.reason, nil
}

type fakeAccounts struct {
	accounts map[string]AccountView
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (AccountView, error) {
	a, ok := f.accounts[id]
	if !ok {
		return AccountView{}, ErrNotFound
	}
	return a, nil
}

type recordingAcctRep struct {
	mu      sync.Mutex
	expired []string
}

func (r *recordingAcctRep) MarkSessionExpired(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, accountID)
	return nil
}

type recordingRiskRep struct {
	mu      sync.Mutex
	reports []string
}

func (r *recordingRiskRep) RecordSessionExpiredViolation(ctx context.Context, accountID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, accountID+":"+jobID)
	return nil
}

func newTestService(t *testing.T, allowed bool) (*Service, *recordingAcctRep, *recordingRiskRep) {
	t.Helper()
	accounts := &fakeAccounts{accounts: map[string]AccountView{
		"acct-1": {ID: "acct-1", UserID: "user-1"},
	}}
	acctRep := &recordingAcctRep{}
	riskRep := &recordingRiskRep{}
	svc, err := NewService(NewMemStore(), &fakeRisk{allowed: allowed}, accounts, acctRep, riskRep, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, acctRep, riskRep
}

func TestCreateJobRejectsWrongOwner(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	_, err := svc.CreateJob(context.Background(), "acct-1", "user-2", JobLikePost, nil, 0, time.Time{}, 30)
	if err == nil {
		t.Fatalf("expected forbidden error")
	}
}

func TestPullJobsOrdering(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()

	// Different priorities: the higher-priority job comes first even though
	// it was created later.
	low, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 1, time.Time{}, 30)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	high, err := svc.CreateJob(ctx, "acct-1", "user-1", JobCommentPost, nil, 5, time.Time{}, 30)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	jobs, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5)
	if err != nil {
		t.Fatalf("PullJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != high.ID || jobs[1].ID != low.ID {
		t.Fatalf("expected higher priority job first, got %v then %v", jobs[0].ID, jobs[1].ID)
	}
	for _, j := range jobs {
		if j.State != StateAssigned || j.AssignedAgentID == nil || *j.AssignedAgentID != "agent-1" {
			t.Fatalf("expected job to be assigned to agent-1: %+v", j)
		}
	}
}

func TestPullJobsRespectsEarliestExecutionTime(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	if _, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, future, 30); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	jobs, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5)
	if err != nil {
		t.Fatalf("PullJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no eligible jobs yet, got %d", len(jobs))
	}
}

func TestPullJobsDisallowedByRiskOracleReturnsEmpty(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()
	if _, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, time.Time{}, 30); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	jobs, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5)
	if err != nil {
		t.Fatalf("PullJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty batch when disallowed, got %d", len(jobs))
	}
}

func TestConcurrentPullsClaimDisjointJobs(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if _, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, time.Time{}, 30); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			jobs, err := svc.PullJobs(ctx, agent, "acct-1", 4)
			if err != nil {
				t.Errorf("PullJobs: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				if seen[j.ID] {
					t.Errorf("job %s claimed by more than one puller", j.ID)
				}
				seen[j.ID] = true
			}
		}("agent-" + string(rune('a'+i)))
	}
	wg.Wait()
}

func TestRecordEventTransitionsToExecuting(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	job, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, time.Time{}, 30)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	jobs, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("PullJobs: %v %v", jobs, err)
	}

	if err := svc.RecordEvent(ctx, "agent-1", job.ID, EventActionStarted, "starting", time.Now()); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	got, err := svc.store.FindJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if got.State != StateExecuting {
		t.Fatalf("expected EXECUTING, got %s", got.State)
	}
}

func TestRecordEventRejectsWrongAgent(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	job, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, time.Time{}, 30)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5); err != nil {
		t.Fatalf("PullJobs: %v", err)
	}
	if err := svc.RecordEvent(ctx, "agent-2", job.ID, EventActionStarted, "x", time.Now()); err == nil {
		t.Fatalf("expected forbidden error for non-owning agent")
	}
}

func TestSubmitResultIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	job, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, time.Time{}, 30)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5); err != nil {
		t.Fatalf("PullJobs: %v", err)
	}

	first, err := svc.SubmitResult(ctx, "agent-1", job.ID, ResultSuccess, nil, nil)
	if err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
	second, err := svc.SubmitResult(ctx, "agent-1", job.ID, ResultFailed, nil, nil)
	if err != nil {
		t.Fatalf("SubmitResult (retry): %v", err)
	}
	if first.ID != second.ID || second.Status != ResultSuccess {
		t.Fatalf("expected idempotent replay of the first result, got %+v", second)
	}

	got, err := svc.store.FindJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if got.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.State)
	}
}

func TestSubmitResultRejectsUnassignedState(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	job, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, time.Time{}, 30)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := svc.SubmitResult(ctx, "agent-1", job.ID, ResultSuccess, nil, nil); err == nil {
		t.Fatalf("expected invalid state error for a job that was never assigned")
	}
}

func TestSubmitResultSessionExpiredReportsSideEffects(t *testing.T) {
	svc, acctRep, riskRep := newTestService(t, true)
	ctx := context.Background()
	job, err := svc.CreateJob(ctx, "acct-1", "user-1", JobSendMessage, nil, 0, time.Time{}, 30)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5); err != nil {
		t.Fatalf("PullJobs: %v", err)
	}
	reason := FailureSessionExpired
	if _, err := svc.SubmitResult(ctx, "agent-1", job.ID, ResultFailed, &reason, nil); err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
	if len(acctRep.expired) != 1 || acctRep.expired[0] != "acct-1" {
		t.Fatalf("expected account registry to be notified, got %v", acctRep.expired)
	}
	if len(riskRep.reports) != 1 {
		t.Fatalf("expected risk oracle to be notified, got %v", riskRep.reports)
	}
}

func TestReaperFailsStuckExecutingJobs(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	job, err := svc.CreateJob(ctx, "acct-1", "user-1", JobLikePost, nil, 0, time.Time{}, 1)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := svc.PullJobs(ctx, "agent-1", "acct-1", 5); err != nil {
		t.Fatalf("PullJobs: %v", err)
	}
	if err := svc.RecordEvent(ctx, "agent-1", job.ID, EventActionStarted, "go", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	reaper := NewReaper(svc, time.Millisecond, 0)
	reaper.sweep(ctx)

	result, err := svc.store.FindResult(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindResult: %v", err)
	}
	if result.Status != ResultFailed || result.FailureReason == nil || *result.FailureReason != FailureTimeout {
		t.Fatalf("expected TIMEOUT failure, got %+v", result)
	}
}

package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore implements Store with in-process concurrency safety. All
// atomicity guarantees (pull CAS, result-commit) come from holding one
// mutex across the whole operation, mirroring how a single serializable
// transaction would behave against Postgres.
type MemStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	results map[string]*Result
}

// NewMemStore creates a fresh in-memory dispatch store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:    make(map[string]*Job),
		results: make(map[string]*Result),
	}
}

func (s *MemStore) CreateJob(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *MemStore) FindJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemStore) ListJobs(ctx context.Context, accountID string, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if accountID != "" && j.AccountID != accountID {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PullAndAssign selects eligible PENDING jobs ordered by
// (priority DESC, createdAt ASC, jobId ASC) and transitions them to
// ASSIGNED under the single store mutex, giving the same
// compare-and-swap guarantee a `SELECT ... FOR UPDATE` transaction gives
// against Postgres: two concurrent pullers cannot both claim the same job.
func (s *MemStore) PullAndAssign(ctx context.Context, agentID, accountID string, maxBatch int, now time.Time) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*Job
	for _, j := range s.jobs {
		if j.AccountID != accountID || j.State != StatePending {
			continue
		}
		if j.EarliestExecutionTime.After(now) {
			continue
		}
		eligible = append(eligible, j)
	}
	sort.Slice(eligible, func(i, k int) bool {
		if eligible[i].Priority != eligible[k].Priority {
			return eligible[i].Priority > eligible[k].Priority
		}
		if !eligible[i].CreatedAt.Equal(eligible[k].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[k].CreatedAt)
		}
		return eligible[i].ID < eligible[k].ID
	})

	if len(eligible) > maxBatch {
		eligible = eligible[:maxBatch]
	}

	out := make([]Job, 0, len(eligible))
	for _, j := range eligible {
		id := agentID
		j.State = StateAssigned
		j.AssignedAgentID = &id
		assignedAt := now
		j.AssignedAt = &assignedAt
		out = append(out, *j)
	}
	return out, nil
}

func (s *MemStore) TransitionToExecuting(ctx context.Context, agentID, jobID string, startedAt time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if j.AssignedAgentID == nil || *j.AssignedAgentID != agentID {
		return nil, ErrForbidden
	}
	if j.State != StateAssigned {
		return nil, ErrInvalidState
	}
	j.State = StateExecuting
	j.StartedAt = &startedAt
	cp := *j
	return &cp, nil
}

func (s *MemStore) FindResult(ctx context.Context, jobID string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// CommitResult inserts Result and advances the owning Job to a terminal
// state in one critical section. If a Result already exists for the job,
// it is returned unmodified — the idempotency contract that makes the
// endpoint safe under transport-level retries.
func (s *MemStore) CommitResult(ctx context.Context, agentID string, r *Result) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.results[r.JobID]; ok {
		cp := *existing
		return &cp, nil
	}

	j, ok := s.jobs[r.JobID]
	if !ok {
		return nil, ErrNotFound
	}
	if j.AssignedAgentID == nil || *j.AssignedAgentID != agentID {
		return nil, ErrForbidden
	}
	if j.State != StateAssigned && j.State != StateExecuting {
		return nil, ErrInvalidState
	}

	switch r.Status {
	case ResultSuccess:
		j.State = StateCompleted
	case ResultFailed:
		j.State = StateFailed
		j.FailureReason = r.FailureReason
	case ResultSkipped:
		j.State = StateSkipped
	}
	j.CompletedAt = &r.CompletedAt

	cp := *r
	s.results[r.JobID] = &cp
	out := *r
	return &out, nil
}

func (s *MemStore) ListResults(ctx context.Context, accountID string, limit int) ([]Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Result
	for _, r := range s.results {
		if accountID != "" {
			j, ok := s.jobs[r.JobID]
			if !ok || j.AccountID != accountID {
				continue
			}
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CompletedAt.Before(out[k].CompletedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dispatchd.dev/internal/dispatch"
)

// DispatchStore wraps the pool for internal/dispatch.Store. PullAndAssign
// and CommitResult are the two operations the state machine's atomicity
// guarantees depend on; each runs inside a single transaction (PullAndAssign
// at read-committed isolation with row locks, CommitResult at serializable
// isolation) the same way ledger.Store.Transfer does.
type DispatchStore struct{ db *sql.DB }

func (s *Store) DispatchStore() *DispatchStore { return &DispatchStore{db: s.db} }

var _ dispatch.Store = (*DispatchStore)(nil)

const jobSelect = `
	select id, account_id, created_by_user_id, assigned_agent_id, type, parameters, state,
		priority, earliest_execution_time, timeout_seconds, created_at, assigned_at, started_at,
		completed_at, failure_reason
	from jobs`

func scanJob(row interface {
	Scan(dest ...any) error
}) (*dispatch.Job, error) {
	var j dispatch.Job
	var params []byte
	if err := row.Scan(&j.ID, &j.AccountID, &j.CreatedByUserID, &j.AssignedAgentID, &j.Type,
		&params, &j.State, &j.Priority, &j.EarliestExecutionTime, &j.TimeoutSeconds, &j.CreatedAt,
		&j.AssignedAt, &j.StartedAt, &j.CompletedAt, &j.FailureReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dispatch.ErrNotFound
		}
		return nil, err
	}
	j.Parameters = map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Parameters); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

func (s *DispatchStore) CreateJob(ctx context.Context, j *dispatch.Job) error {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into jobs (id, account_id, created_by_user_id, assigned_agent_id, type, parameters,
			state, priority, earliest_execution_time, timeout_seconds, created_at, assigned_at,
			started_at, completed_at, failure_reason)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, j.ID, j.AccountID, j.CreatedByUserID, j.AssignedAgentID, j.Type, params, j.State,
		j.Priority, j.EarliestExecutionTime, j.TimeoutSeconds, j.CreatedAt, j.AssignedAt,
		j.StartedAt, j.CompletedAt, j.FailureReason)
	return err
}

func (s *DispatchStore) FindJob(ctx context.Context, id string) (*dispatch.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, jobSelect+` where id = $1`, id))
}

func (s *DispatchStore) ListJobs(ctx context.Context, accountID string, limit int) ([]dispatch.Job, error) {
	query := jobSelect + ` where ($1 = '' or account_id = $1) order by created_at asc`
	args := []any{accountID}
	if limit > 0 {
		query += ` limit $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dispatch.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// PullAndAssign relies on `for update skip locked` to give the same
// compare-and-swap guarantee MemStore gets from a single mutex: two
// concurrent pullers never see, or claim, the same PENDING row.
func (s *DispatchStore) PullAndAssign(ctx context.Context, agentID, accountID string, maxBatch int, now time.Time) ([]dispatch.Job, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		select id from jobs
		where account_id = $1 and state = $2 and earliest_execution_time <= $3
		order by priority desc, created_at asc, id asc
		limit $4
		for update skip locked
	`, accountID, dispatch.StatePending, now, maxBatch)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	out := make([]dispatch.Job, 0, len(ids))
	for _, id := range ids {
		row := tx.QueryRowContext(ctx, `
			update jobs set state = $2, assigned_agent_id = $3, assigned_at = $4
			where id = $1
			returning `+jobColumns, id, dispatch.StateAssigned, agentID, now)
		j, err := scanJob(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

const jobColumns = `id, account_id, created_by_user_id, assigned_agent_id, type, parameters, state,
		priority, earliest_execution_time, timeout_seconds, created_at, assigned_at, started_at,
		completed_at, failure_reason`

func (s *DispatchStore) TransitionToExecuting(ctx context.Context, agentID, jobID string, startedAt time.Time) (*dispatch.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	j, err := scanJob(tx.QueryRowContext(ctx, jobSelect+` where id = $1 for update`, jobID))
	if err != nil {
		return nil, err
	}
	if j.AssignedAgentID == nil || *j.AssignedAgentID != agentID {
		return nil, dispatch.ErrForbidden
	}
	if j.State != dispatch.StateAssigned {
		return nil, dispatch.ErrInvalidState
	}
	if _, err := tx.ExecContext(ctx, `update jobs set state = $2, started_at = $3 where id = $1`,
		jobID, dispatch.StateExecuting, startedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	j.State = dispatch.StateExecuting
	j.StartedAt = &startedAt
	return j, nil
}

func (s *DispatchStore) FindResult(ctx context.Context, jobID string) (*dispatch.Result, error) {
	return scanResult(s.db.QueryRowContext(ctx, resultSelect+` where job_id = $1`, jobID))
}

const resultSelect = `
	select id, job_id, agent_id, status, observed_state, failure_reason, completed_at
	from job_results`

func scanResult(row interface {
	Scan(dest ...any) error
}) (*dispatch.Result, error) {
	var r dispatch.Result
	if err := row.Scan(&r.ID, &r.JobID, &r.AgentID, &r.Status, &r.ObservedState, &r.FailureReason,
		&r.CompletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dispatch.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// CommitResult inserts Result and advances the owning Job to a terminal
// state in one transaction, exactly like ledger.Store.Transfer commits a
// balance move and its transaction row together. The idempotency-key check
// happens inside the same transaction to close the race between two
// concurrent retries of the same submitResult call.
func (s *DispatchStore) CommitResult(ctx context.Context, agentID string, r *dispatch.Result) (*dispatch.Result, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if existing, err := scanResult(tx.QueryRowContext(ctx, resultSelect+` where job_id = $1`, r.JobID)); err == nil {
		return existing, nil
	} else if !errors.Is(err, dispatch.ErrNotFound) {
		return nil, err
	}

	j, err := scanJob(tx.QueryRowContext(ctx, jobSelect+` where id = $1 for update`, r.JobID))
	if err != nil {
		return nil, err
	}
	if j.AssignedAgentID == nil || *j.AssignedAgentID != agentID {
		return nil, dispatch.ErrForbidden
	}
	if j.State != dispatch.StateAssigned && j.State != dispatch.StateExecuting {
		return nil, dispatch.ErrInvalidState
	}

	var newState dispatch.State
	switch r.Status {
	case dispatch.ResultSuccess:
		newState = dispatch.StateCompleted
	case dispatch.ResultFailed:
		newState = dispatch.StateFailed
	case dispatch.ResultSkipped:
		newState = dispatch.StateSkipped
	}

	if _, err := tx.ExecContext(ctx, `
		insert into job_results (id, job_id, agent_id, status, observed_state, failure_reason, completed_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.JobID, r.AgentID, r.Status, r.ObservedState, r.FailureReason, r.CompletedAt); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		update jobs set state = $2, completed_at = $3, failure_reason = $4 where id = $1
	`, r.JobID, newState, r.CompletedAt, r.FailureReason); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	out := *r
	return &out, nil
}

func (s *DispatchStore) ListResults(ctx context.Context, accountID string, limit int) ([]dispatch.Result, error) {
	query := `
		select r.id, r.job_id, r.agent_id, r.status, r.observed_state, r.failure_reason, r.completed_at
		from job_results r
		join jobs j on j.id = r.job_id
		where ($1 = '' or j.account_id = $1)
		order by r.completed_at asc
	`
	args := []any{accountID}
	if limit > 0 {
		query += ` limit $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dispatch.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

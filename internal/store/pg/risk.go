package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"dispatchd.dev/internal/risk"
)

// RuleStore, ViolationStore, and ScoreStore are separate wrapper types
// because risk.RuleStore and risk.ViolationStore both declare Create and
// FindByID with different signatures.
type RuleStore struct{ db *sql.DB }
type ViolationStore struct{ db *sql.DB }
type ScoreStore struct{ db *sql.DB }

func (s *Store) RuleStore() *RuleStore           { return &RuleStore{db: s.db} }
func (s *Store) ViolationStore() *ViolationStore { return &ViolationStore{db: s.db} }
func (s *Store) ScoreStore() *ScoreStore         { return &ScoreStore{db: s.db} }

var _ risk.RuleStore = (*RuleStore)(nil)
var _ risk.ViolationStore = (*ViolationStore)(nil)
var _ risk.ScoreStore = (*ScoreStore)(nil)

func (s *RuleStore) Create(ctx context.Context, r *risk.RateLimitRule) error {
	_, err := s.db.ExecContext(ctx, `
		insert into rate_limit_rules (id, action_type, max_count, window_seconds, is_active)
		values ($1, $2, $3, $4, $5)
	`, r.ID, r.ActionType, r.MaxCount, int64(r.WindowDuration/time.Second), r.IsActive)
	return err
}

func (s *RuleStore) FindByID(ctx context.Context, id string) (*risk.RateLimitRule, error) {
	var r risk.RateLimitRule
	var windowSeconds int64
	row := s.db.QueryRowContext(ctx, `
		select id, action_type, max_count, window_seconds, is_active
		from rate_limit_rules where id = $1
	`, id)
	if err := row.Scan(&r.ID, &r.ActionType, &r.MaxCount, &windowSeconds, &r.IsActive); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, risk.ErrNotFound
		}
		return nil, err
	}
	r.WindowDuration = time.Duration(windowSeconds) * time.Second
	return &r, nil
}

func (s *RuleStore) ListActive(ctx context.Context, actionType string) ([]risk.RateLimitRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, action_type, max_count, window_seconds, is_active
		from rate_limit_rules where ($1 = '' or action_type = $1) and is_active = true
	`, actionType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []risk.RateLimitRule
	for rows.Next() {
		var r risk.RateLimitRule
		var windowSeconds int64
		if err := rows.Scan(&r.ID, &r.ActionType, &r.MaxCount, &windowSeconds, &r.IsActive); err != nil {
			return nil, err
		}
		r.WindowDuration = time.Duration(windowSeconds) * time.Second
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ViolationStore) Create(ctx context.Context, v *risk.Violation) error {
	_, err := s.db.ExecContext(ctx, `
		insert into violations (id, account_id, rule_id, job_id, violation_type, severity,
			detected_at, resolved_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.AccountID, v.RuleID, v.JobID, v.ViolationType, v.Severity, v.DetectedAt, v.ResolvedAt)
	return err
}

func (s *ViolationStore) FindByID(ctx context.Context, id string) (*risk.Violation, error) {
	var v risk.Violation
	row := s.db.QueryRowContext(ctx, `
		select id, account_id, rule_id, job_id, violation_type, severity, detected_at, resolved_at
		from violations where id = $1
	`, id)
	if err := row.Scan(&v.ID, &v.AccountID, &v.RuleID, &v.JobID, &v.ViolationType, &v.Severity,
		&v.DetectedAt, &v.ResolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, risk.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *ViolationStore) ListUnresolvedSince(ctx context.Context, accountID string, since time.Time) ([]risk.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, account_id, rule_id, job_id, violation_type, severity, detected_at, resolved_at
		from violations
		where account_id = $1 and resolved_at is null and detected_at >= $2
	`, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []risk.Violation
	for rows.Next() {
		var v risk.Violation
		if err := rows.Scan(&v.ID, &v.AccountID, &v.RuleID, &v.JobID, &v.ViolationType, &v.Severity,
			&v.DetectedAt, &v.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *ViolationStore) Resolve(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update violations set resolved_at = $2 where id = $1`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return risk.ErrNotFound
	}
	return nil
}

func (s *ScoreStore) Create(ctx context.Context, sc *risk.RiskScore) error {
	factors, err := json.Marshal(sc.Factors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into risk_scores (id, account_id, score, level, factors, calculated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, sc.ID, sc.AccountID, sc.Score, sc.Level, factors, sc.CalculatedAt)
	return err
}

func (s *ScoreStore) Latest(ctx context.Context, accountID string) (*risk.RiskScore, error) {
	var sc risk.RiskScore
	var factors []byte
	row := s.db.QueryRowContext(ctx, `
		select id, account_id, score, level, factors, calculated_at
		from risk_scores where account_id = $1
		order by calculated_at desc limit 1
	`, accountID)
	if err := row.Scan(&sc.ID, &sc.AccountID, &sc.Score, &sc.Level, &factors, &sc.CalculatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, risk.ErrNotFound
		}
		return nil, err
	}
	sc.Factors = map[string]any{}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &sc.Factors); err != nil {
			return nil, err
		}
	}
	return &sc, nil
}

package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"dispatchd.dev/internal/account"
)

// AccountStore wraps the pool for internal/account.Store.
type AccountStore struct{ db *sql.DB }

func (s *Store) AccountStore() *AccountStore { return &AccountStore{db: s.db} }

var _ account.Store = (*AccountStore)(nil)

func (s *AccountStore) Create(ctx context.Context, a *account.Account) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into accounts (id, user_id, profile_url, display_name, validation_status,
			health_status, session_valid_at, user_paused, metadata, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.UserID, a.ProfileURL, a.DisplayName, a.ValidationStatus,
		a.HealthStatus, a.SessionValidAt, a.UserPaused, meta, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return account.ErrConflict
	}
	return err
}

func (s *AccountStore) FindByID(ctx context.Context, id string) (*account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, accountSelect+` where id = $1`, id))
}

func (s *AccountStore) FindByUserID(ctx context.Context, userID string) (*account.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, accountSelect+` where user_id = $1`, userID))
}

func (s *AccountStore) Update(ctx context.Context, a *account.Account) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts set profile_url=$2, display_name=$3, validation_status=$4,
			health_status=$5, session_valid_at=$6, user_paused=$7, metadata=$8, updated_at=$9
		where id=$1
	`, a.ID, a.ProfileURL, a.DisplayName, a.ValidationStatus,
		a.HealthStatus, a.SessionValidAt, a.UserPaused, meta, a.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}

const accountSelect = `
	select id, user_id, profile_url, display_name, validation_status, health_status,
		session_valid_at, user_paused, metadata, created_at, updated_at
	from accounts`

func scanAccount(row *sql.Row) (*account.Account, error) {
	var a account.Account
	var meta []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.ProfileURL, &a.DisplayName, &a.ValidationStatus,
		&a.HealthStatus, &a.SessionValidAt, &a.UserPaused, &meta, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, err
	}
	a.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

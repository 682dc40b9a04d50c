package pg

import (
	"context"
	"database/sql"
	"errors"

	"dispatchd.dev/internal/identity"
)

// UserStore wraps the pool for internal/identity.UserStore. It is a
// separate type from Store's other subsystem wrappers because several of
// those interfaces declare same-named methods with different signatures.
type UserStore struct{ db *sql.DB }

func (s *Store) UserStore() *UserStore { return &UserStore{db: s.db} }

var _ identity.UserStore = (*UserStore)(nil)

func (s *UserStore) Create(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, created_at)
		values ($1, $2, $3)
	`, u.ID, u.Email, u.CreatedAt)
	if isUniqueViolation(err) {
		return identity.ErrInvalidInput
	}
	return err
}

func (s *UserStore) Find(ctx context.Context, id string) (*identity.User, error) {
	var u identity.User
	row := s.db.QueryRowContext(ctx, `select id, email, created_at from users where id = $1`, id)
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	var u identity.User
	row := s.db.QueryRowContext(ctx, `select id, email, created_at from users where email = $1`, email)
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

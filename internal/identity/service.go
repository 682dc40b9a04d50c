package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatchd.dev/internal/ids"
)

// Service resolves externally-authenticated principals to internal user ids.
type Service struct {
	store UserStore
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store UserStore) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	return &Service{store: store, now: time.Now}, nil
}

// ResolveOrCreate maps an externally-verified (subject, email) pair — the
// output of the upstream identity provider's token, already validated by the
// wire layer — to an internal user id, creating the User row on first sight.
// Identity is the only subsystem allowed to create a User (spec §3).
func (s *Service) ResolveOrCreate(ctx context.Context, subject, email string) (User, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return User{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	existing, err := s.store.Find(ctx, subject)
	if err == nil {
		return *existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}
	u := &User{
		ID:        subject,
		Email:     strings.TrimSpace(strings.ToLower(email)),
		CreatedAt: s.now().UTC(),
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if err := s.store.Create(ctx, u); err != nil {
		return User{}, err
	}
	return *u, nil
}

// Get loads a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	u, err := s.store.Find(ctx, id)
	if err != nil {
		return User{}, err
	}
	return *u, nil
}

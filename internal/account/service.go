package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatchd.dev/internal/ids"
)

const auditDomain = "account"

// Service implements the Account Registry (spec §4.1). Each subsystem
// exclusively writes its own tables; Service is the sole writer of Account
// rows.
type Service struct {
	store Store
	audit AuditSink
	now   func() time.Time
}

// NewService constructs a Service. audit may be nil, in which case boundary
// events are not recorded — useful for tests that don't care about audit.
func NewService(store Store, audit AuditSink) (*Service, error) {
	if store == nil {
		return nil, errors.New("account: store is required")
	}
	return &Service{store: store, audit: audit, now: time.Now}, nil
}

// CreateAccount creates the (unique) account for a user.
func (s *Service) CreateAccount(ctx context.Context, userID, profileURL, displayName string) (Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Account{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	profileURL = strings.TrimSpace(profileURL)
	if profileURL == "" {
		return Account{}, fmt.Errorf("%w: profile_url is required", ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)

	if existing, err := s.store.FindByUserID(ctx, userID); err == nil && existing != nil {
		return Account{}, ErrConflict
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}

	now := s.now().UTC()
	a := &Account{
		ID:               ids.New(),
		UserID:           userID,
		ProfileURL:       profileURL,
		DisplayName:      displayName,
		ValidationStatus: ValidationConnected,
		HealthStatus:     HealthHealthy,
		Metadata:         map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return Account{}, err
	}
	return *a, nil
}

// GetByUserID loads the account owned by userID.
func (s *Service) GetByUserID(ctx context.Context, userID string) (Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Account{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	a, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	return *a, nil
}

// GetByID loads an account by id.
func (s *Service) GetByID(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	a, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	return *a, nil
}

// UpdateValidationStatus transitions the account's session-validity state.
// A transition into EXPIRED emits a boundary audit event (spec §4.1); the
// Registry itself never blocks other subsystems on this — Risk Oracle is the
// consumer of the resulting state.
func (s *Service) UpdateValidationStatus(ctx context.Context, id string, status ValidationStatus) (Account, error) {
	if err := validateValidationStatus(status); err != nil {
		return Account{}, err
	}
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if a.ValidationStatus == status {
		return a, nil
	}
	a.ValidationStatus = status
	a.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &a); err != nil {
		return Account{}, err
	}
	if status == ValidationExpired {
		s.appendBoundaryEvent(ctx, "account.validation_expired", a.ID)
	}
	return a, nil
}

// UpdateHealthStatus transitions the account's health state. A transition
// into SUSPENDED emits a boundary audit event.
func (s *Service) UpdateHealthStatus(ctx context.Context, id string, status HealthStatus) (Account, error) {
	if err := validateHealthStatus(status); err != nil {
		return Account{}, err
	}
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if a.HealthStatus == status {
		return a, nil
	}
	a.HealthStatus = status
	a.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &a); err != nil {
		return Account{}, err
	}
	if status == HealthSuspended {
		s.appendBoundaryEvent(ctx, "account.health_suspended", a.ID)
	}
	return a, nil
}

// MarkSessionValid records that an externally observed session for the
// account is currently good, resetting validation status to CONNECTED.
func (s *Service) MarkSessionValid(ctx context.Context, id string, at time.Time) (Account, error) {
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	at = at.UTC()
	a.SessionValidAt = &at
	a.ValidationStatus = ValidationConnected
	a.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// SetUserPaused flips the explicit control-plane pause flag the Risk Oracle
// treats as an unconditional veto (spec Open Question ii).
func (s *Service) SetUserPaused(ctx context.Context, id string, paused bool) (Account, error) {
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if a.UserPaused == paused {
		return a, nil
	}
	a.UserPaused = paused
	a.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &a); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *Service) appendBoundaryEvent(ctx context.Context, eventType, accountID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Append(ctx, auditDomain, eventType, "account", accountID, "System", "account-registry", nil)
}

func validateValidationStatus(v ValidationStatus) error {
	switch v {
	case ValidationConnected, ValidationExpired, ValidationDisconnected:
		return nil
	default:
		return fmt.Errorf("%w: unsupported validation_status %s", ErrInvalidInput, v)
	}
}

func validateHealthStatus(v HealthStatus) error {
	switch v {
	case HealthHealthy, HealthDegraded, HealthSuspended:
		return nil
	default:
		return fmt.Errorf("%w: unsupported health_status %s", ErrInvalidInput, v)
	}
}

package account

import (
	"context"
	"testing"
)

type recordingSink struct {
	events []string
}

func (r *recordingSink) Append(ctx context.Context, domain, eventType, entityType, entityID, actorType, actorID string, payload map[string]any) error {
	r.events = append(r.events, eventType)
	return nil
}

func TestCreateAccountRejectsDuplicateUser(t *testing.T) {
	svc, err := NewService(NewMemStore(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.CreateAccount(ctx, "user-1", "https://example.com/u/1", "Alice"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := svc.CreateAccount(ctx, "user-1", "https://example.com/u/2", "Alice 2"); err == nil {
		t.Fatalf("expected conflict for second account of same user")
	}
}

func TestUpdateValidationStatusEmitsAuditOnExpired(t *testing.T) {
	sink := &recordingSink{}
	svc, err := NewService(NewMemStore(), sink)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "user-1", "https://example.com/u/1", "Alice")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if _, err := svc.UpdateValidationStatus(ctx, acc.ID, ValidationExpired); err != nil {
		t.Fatalf("UpdateValidationStatus: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0] != "account.validation_expired" {
		t.Fatalf("expected one validation_expired audit event, got %v", sink.events)
	}

	// Repeating the same transition is a no-op and must not re-emit.
	if _, err := svc.UpdateValidationStatus(ctx, acc.ID, ValidationExpired); err != nil {
		t.Fatalf("UpdateValidationStatus (repeat): %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected no duplicate audit event, got %v", sink.events)
	}
}

func TestUpdateHealthStatusEmitsAuditOnSuspended(t *testing.T) {
	sink := &recordingSink{}
	svc, err := NewService(NewMemStore(), sink)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()

	acc, err := svc.CreateAccount(ctx, "user-1", "https://example.com/u/1", "Alice")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := svc.UpdateHealthStatus(ctx, acc.ID, HealthSuspended); err != nil {
		t.Fatalf("UpdateHealthStatus: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0] != "account.health_suspended" {
		t.Fatalf("expected health_suspended audit event, got %v", sink.events)
	}
}

func TestUpdateValidationStatusRejectsUnknownValue(t *testing.T) {
	svc, err := NewService(NewMemStore(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "user-1", "https://example.com/u/1", "Alice")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := svc.UpdateValidationStatus(ctx, acc.ID, "BOGUS"); err == nil {
		t.Fatalf("expected invalid input error")
	}
}

func TestSetUserPaused(t *testing.T) {
	svc, err := NewService(NewMemStore(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ctx := context.Background()
	acc, err := svc.CreateAccount(ctx, "user-1", "https://example.com/u/1", "Alice")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acc.UserPaused {
		t.Fatalf("expected new account to default userPaused=false")
	}
	updated, err := svc.SetUserPaused(ctx, acc.ID, true)
	if err != nil {
		t.Fatalf("SetUserPaused: %v", err)
	}
	if !updated.UserPaused {
		t.Fatalf("expected userPaused=true")
	}
}

func TestGetByUserIDNotFound(t *testing.T) {
	svc, err := NewService(NewMemStore(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.GetByUserID(context.Background(), "missing"); err == nil {
		t.Fatalf("expected not found error")
	}
}

package identity

import (
	"context"
	"testing"
)

func TestResolveOrCreateCreatesOnFirstSight(t *testing.T) {
	svc, err := NewService(NewMemStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	u, err := svc.ResolveOrCreate(context.Background(), "idp-subject-1", "Person@Example.com")
	if err != nil {
		t.Fatalf("ResolveOrCreate: %v", err)
	}
	if u.ID != "idp-subject-1" {
		t.Fatalf("unexpected id: %s", u.ID)
	}
	if u.Email != "person@example.com" {
		t.Fatalf("expected normalized email, got %s", u.Email)
	}

	again, err := svc.ResolveOrCreate(context.Background(), "idp-subject-1", "person@example.com")
	if err != nil {
		t.Fatalf("ResolveOrCreate second call: %v", err)
	}
	if again.CreatedAt != u.CreatedAt {
		t.Fatalf("expected same user to be returned, not recreated")
	}
}

func TestResolveOrCreateRejectsEmptySubject(t *testing.T) {
	svc, err := NewService(NewMemStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.ResolveOrCreate(context.Background(), "  ", "a@b.com"); err == nil {
		t.Fatalf("expected error for empty subject")
	}
}

func TestGetUnknownUser(t *testing.T) {
	svc, err := NewService(NewMemStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.Get(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatalf("expected error when store is nil")
	}
}

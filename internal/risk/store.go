package risk

import (
	"context"
	"time"
)

// RuleStore persists RateLimitRule rows.
type RuleStore interface {
	Create(ctx context.Context, r *RateLimitRule) error
	FindByID(ctx context.Context, id string) (*RateLimitRule, error)
	ListActive(ctx context.Context, actionType string) ([]RateLimitRule, error)
}

// ViolationStore persists Violation rows.
type ViolationStore interface {
	Create(ctx context.Context, v *Violation) error
	FindByID(ctx context.Context, id string) (*Violation, error)
	ListUnresolvedSince(ctx context.Context, accountID string, since time.Time) ([]Violation, error)
	Resolve(ctx context.Context, id string, at time.Time) error
}

// ScoreStore persists RiskScore rows.
type ScoreStore interface {
	Create(ctx context.Context, s *RiskScore) error
	Latest(ctx context.Context, accountID string) (*RiskScore, error)
}

// AccountLookup is the subset of Account Registry state the Oracle
// consults. Satisfied by internal/account.Service via an adapter, since
// isExecutionAllowed must never mutate account state.
type AccountLookup interface {
	Get(ctx context.Context, accountID string) (AccountView, error)
}

// AccountView decouples risk from account's concrete struct.
type AccountView struct {
	ID               string
	ValidationStatus string
	HealthStatus     string
	UserPaused       bool
}

// AuditSink is the minimal surface risk needs to record boundary events.
type AuditSink interface {
	Append(ctx context.Context, domain, eventType, entityType, entityID, actorType, actorID string, payload map[string]any) error
}

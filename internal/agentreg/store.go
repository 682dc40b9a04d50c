package agentreg

import "context"

// AgentStore persists Agent rows, keyed by the single-live-agent-per-account
// invariant.
type AgentStore interface {
	FindByAccountID(ctx context.Context, accountID string) (*Agent, error)
	FindByID(ctx context.Context, id string) (*Agent, error)
	Create(ctx context.Context, a *Agent) error
	Update(ctx context.Context, a *Agent) error
}

// TokenStore persists AgentToken rows and their revocation state.
type TokenStore interface {
	Create(ctx context.Context, t *Token) error
	FindByID(ctx context.Context, id string) (*Token, error)
	RevokeAllForAgent(ctx context.Context, agentID string) error
}

// AccountLookup is the minimal surface agentreg needs from the Account
// Registry to validate the account exists and is owned by the registering
// user. Satisfied by internal/account.Service.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (AccountView, error)
}

// AccountView is the subset of Account fields agentreg cares about,
// decoupled from internal/account's concrete type.
type AccountView struct {
	ID     string
	UserID string
}

// RiskOracle is the minimal surface agentreg needs from the Risk Oracle to
// answer the heartbeat and control-state execution verdict. Satisfied by
// internal/risk.Service.
type RiskOracle interface {
	IsExecutionAllowed(ctx context.Context, accountID string) (allowed bool, reason string, err error)
}

// AuditSink is the minimal surface agentreg needs to record boundary
// events. Satisfied by internal/audit.Sink.
type AuditSink interface {
	Append(ctx context.Context, domain, eventType, entityType, entityID, actorType, actorID string, payload map[string]any) error
}

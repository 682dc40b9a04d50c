package agentreg

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatchd.dev/internal/ids"
)

const auditDomain = "agentreg"

// Service implements the Agent Registry (spec §4.2).
type Service struct {
	agents              AgentStore
	tokens              TokenStore
	accounts            AccountLookup
	risk                RiskOracle
	audit               AuditSink
	now                 func() time.Time
	tokenTTL            time.Duration
	pollIntervalSeconds int
}

// Option configures Service.
type Option func(*Service)

// WithPollIntervalSeconds overrides the interval returned to agents on
// registration (spec §6, `pollIntervalSeconds`). n<=0 is ignored.
func WithPollIntervalSeconds(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pollIntervalSeconds = n
		}
	}
}

// NewService constructs a Service. risk and audit may be nil for tests that
// don't exercise the heartbeat verdict or boundary events.
func NewService(agents AgentStore, tokens TokenStore, accounts AccountLookup, risk RiskOracle, audit AuditSink, opts ...Option) (*Service, error) {
	if agents == nil || tokens == nil {
		return nil, errors.New("agentreg: agent and token stores are required")
	}
	if accounts == nil {
		return nil, errors.New("agentreg: account lookup is required")
	}
	s := &Service{
		agents:              agents,
		tokens:              tokens,
		accounts:            accounts,
		risk:                risk,
		audit:               audit,
		now:                 time.Now,
		tokenTTL:            DefaultTokenTTL,
		pollIntervalSeconds: DefaultPollIntervalSeconds,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterResult is returned by Register.
type RegisterResult struct {
	AgentToken          string
	PollIntervalSeconds int
}

// Register validates the (userID, accountID) association, creates or
// reuses the single agent row for accountID, and mints a fresh token,
// revoking any prior token for this agent atomically (spec §4.2, the 1:1
// invariant).
func (s *Service) Register(ctx context.Context, userID, accountID, agentVersion, platform string) (RegisterResult, error) {
	userID = strings.TrimSpace(userID)
	accountID = strings.TrimSpace(accountID)
	if userID == "" || accountID == "" {
		return RegisterResult{}, fmt.Errorf("%w: user_id and account_id are required", ErrInvalidInput)
	}

	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return RegisterResult{}, err
	}
	if acc.UserID != userID {
		return RegisterResult{}, ErrAccountOwner
	}

	now := s.now().UTC()
	agent, err := s.agents.FindByAccountID(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		agent = &Agent{
			ID:           ids.New(),
			AccountID:    accountID,
			State:        StateRegistered,
			AgentVersion: agentVersion,
			Platform:     platform,
			RegisteredAt: now,
		}
		if err := s.agents.Create(ctx, agent); err != nil {
			return RegisterResult{}, err
		}
	} else if err != nil {
		return RegisterResult{}, err
	} else {
		agent.State = StateRegistered
		agent.AgentVersion = agentVersion
		agent.Platform = platform
		agent.TerminatedAt = nil
		if err := s.agents.Update(ctx, agent); err != nil {
			return RegisterResult{}, err
		}
	}

	// Rotation must be atomic: an accepted re-registration is simultaneously
	// a revocation of the previous token. The store layer is expected to
	// perform revoke-then-issue inside a single transaction.
	if err := s.tokens.RevokeAllForAgent(ctx, agent.ID); err != nil {
		return RegisterResult{}, err
	}
	tokenString, rec, err := s.generateToken(agent.ID, accountID, now)
	if err != nil {
		return RegisterResult{}, err
	}
	if err := s.tokens.Create(ctx, rec); err != nil {
		return RegisterResult{}, err
	}

	s.appendAudit(ctx, "agent.registered", agent.ID, "User", userID)
	return RegisterResult{AgentToken: tokenString, PollIntervalSeconds: s.pollIntervalSeconds}, nil
}

// Heartbeat updates liveness state and returns the execution verdict
// obtained by consulting the Risk Oracle (spec §4.2). It must stay cheap:
// besides the state update and audit append it does no heavy work.
func (s *Service) Heartbeat(ctx context.Context, token string, status ReportedStatus, currentJobID string) (Verdict, error) {
	agentID, accountID, err := s.ValidateToken(ctx, token)
	if err != nil {
		return Verdict{}, err
	}
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return Verdict{}, err
	}

	switch status {
	case ReportedIdle, ReportedPaused:
		agent.State = StateIdle
	case ReportedExecuting:
		agent.State = StateActive
	default:
		return Verdict{}, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	now := s.now().UTC()
	agent.LastHeartbeatAt = &now
	if err := s.agents.Update(ctx, agent); err != nil {
		return Verdict{}, err
	}

	verdict, err := s.executionVerdict(ctx, accountID)
	if err != nil {
		return Verdict{}, err
	}
	s.appendAudit(ctx, "agent.heartbeat", agentID, "Agent", agentID)
	return verdict, nil
}

// ControlState answers the same verdict contract as Heartbeat without
// mutating liveness state.
func (s *Service) ControlState(ctx context.Context, accountID string) (Verdict, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Verdict{}, fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}
	return s.executionVerdict(ctx, accountID)
}

func (s *Service) executionVerdict(ctx context.Context, accountID string) (Verdict, error) {
	if s.risk == nil {
		return Verdict{Allowed: true}, nil
	}
	allowed, reason, err := s.risk.IsExecutionAllowed(ctx, accountID)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{Allowed: allowed, Reason: reason}, nil
}

// ValidateToken resolves a bearer token to (agentID, accountID), rejecting
// unknown, revoked, or expired tokens.
func (s *Service) ValidateToken(ctx context.Context, token string) (agentID, accountID string, err error) {
	id, secret, err := splitToken(token)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	rec, err := s.tokens.FindByID(ctx, id)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if rec.Revoked || s.now().After(rec.ExpiresAt) {
		return "", "", ErrInvalidToken
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return "", "", ErrInvalidToken
	}
	return rec.AgentID, rec.AccountID, nil
}

// Revoke marks the token identified by the bearer value revoked; the next
// heartbeat using it fails authentication.
func (s *Service) Revoke(ctx context.Context, token string) error {
	agentID, _, err := s.ValidateToken(ctx, token)
	if err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForAgent(ctx, agentID); err != nil {
		return err
	}
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	agent.State = StateTerminated
	agent.TerminatedAt = &now
	if err := s.agents.Update(ctx, agent); err != nil {
		return err
	}
	s.appendAudit(ctx, "agent.revoked", agentID, "System", "agent-registry")
	return nil
}

func (s *Service) generateToken(agentID, accountID string, now time.Time) (string, *Token, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("agentreg: generate token secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &Token{
		ID:        tokenID,
		AgentID:   agentID,
		AccountID: accountID,
		TokenHash: hex.EncodeToString(sum[:]),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.tokenTTL),
	}
	return tokenID + "." + secret, rec, nil
}

func splitToken(raw string) (id, secret string, err error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("agentreg: malformed token")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

func (s *Service) appendAudit(ctx context.Context, eventType, entityID, actorType, actorID string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Append(ctx, auditDomain, eventType, "agent", entityID, actorType, actorID, nil)
}

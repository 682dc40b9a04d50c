package pg

import (
	"context"
	"database/sql"
	"errors"

	"dispatchd.dev/internal/agentreg"
)

// AgentStore and TokenStore are separate wrapper types (rather than more
// methods on Store) because agentreg.AgentStore and agentreg.TokenStore
// both declare a Create and a FindByID method with different signatures;
// a single Go type cannot implement both.
type AgentStore struct{ db *sql.DB }
type TokenStore struct{ db *sql.DB }

func (s *Store) AgentStore() *AgentStore { return &AgentStore{db: s.db} }
func (s *Store) TokenStore() *TokenStore { return &TokenStore{db: s.db} }

var _ agentreg.AgentStore = (*AgentStore)(nil)
var _ agentreg.TokenStore = (*TokenStore)(nil)

const agentSelect = `
	select id, account_id, state, agent_version, platform, last_heartbeat_at,
		registered_at, terminated_at
	from agents`

func scanAgent(row *sql.Row) (*agentreg.Agent, error) {
	var a agentreg.Agent
	if err := row.Scan(&a.ID, &a.AccountID, &a.State, &a.AgentVersion, &a.Platform,
		&a.LastHeartbeatAt, &a.RegisteredAt, &a.TerminatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, agentreg.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *AgentStore) FindByAccountID(ctx context.Context, accountID string) (*agentreg.Agent, error) {
	return scanAgent(s.db.QueryRowContext(ctx, agentSelect+` where account_id = $1`, accountID))
}

func (s *AgentStore) FindByID(ctx context.Context, id string) (*agentreg.Agent, error) {
	return scanAgent(s.db.QueryRowContext(ctx, agentSelect+` where id = $1`, id))
}

func (s *AgentStore) Create(ctx context.Context, a *agentreg.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		insert into agents (id, account_id, state, agent_version, platform, last_heartbeat_at,
			registered_at, terminated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.AccountID, a.State, a.AgentVersion, a.Platform, a.LastHeartbeatAt,
		a.RegisteredAt, a.TerminatedAt)
	if isUniqueViolation(err) {
		return agentreg.ErrInvalidInput
	}
	return err
}

func (s *AgentStore) Update(ctx context.Context, a *agentreg.Agent) error {
	res, err := s.db.ExecContext(ctx, `
		update agents set state=$2, agent_version=$3, platform=$4, last_heartbeat_at=$5,
			terminated_at=$6
		where id=$1
	`, a.ID, a.State, a.AgentVersion, a.Platform, a.LastHeartbeatAt, a.TerminatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return agentreg.ErrNotFound
	}
	return nil
}

func (s *TokenStore) Create(ctx context.Context, t *agentreg.Token) error {
	_, err := s.db.ExecContext(ctx, `
		insert into agent_tokens (id, agent_id, account_id, token_hash, expires_at, revoked, issued_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.AgentID, t.AccountID, t.TokenHash, t.ExpiresAt, t.Revoked, t.IssuedAt)
	return err
}

func (s *TokenStore) FindByID(ctx context.Context, id string) (*agentreg.Token, error) {
	var t agentreg.Token
	row := s.db.QueryRowContext(ctx, `
		select id, agent_id, account_id, token_hash, expires_at, revoked, issued_at
		from agent_tokens where id = $1
	`, id)
	if err := row.Scan(&t.ID, &t.AgentID, &t.AccountID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.IssuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, agentreg.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *TokenStore) RevokeAllForAgent(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `update agent_tokens set revoked = true where agent_id = $1 and revoked = false`, agentID)
	return err
}

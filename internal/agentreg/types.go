// Package agentreg implements the Agent Registry: binding one executing
// automation process to one account, minting scoped bearer tokens, and
// tracking liveness.
package agentreg

import "time"

// State is the lifecycle state of an Agent.
type State string

const (
	StateRegistered State = "REGISTERED"
	StateIdle       State = "IDLE"
	StateActive     State = "ACTIVE"
	StateTerminated State = "TERMINATED"
)

// ReportedStatus is what an agent self-reports on heartbeat.
type ReportedStatus string

const (
	ReportedIdle      ReportedStatus = "IDLE"
	ReportedExecuting ReportedStatus = "EXECUTING"
	ReportedPaused    ReportedStatus = "PAUSED"
)

// Agent is the executing process bound to exactly one account.
type Agent struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	State           State      `json:"state"`
	AgentVersion    string     `json:"agent_version"`
	Platform        string     `json:"platform"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
	TerminatedAt    *time.Time `json:"terminated_at,omitempty"`
}

// Token is the opaque bearer credential bound to (agentId, accountId,
// expiresAt). The wire value is never stored; only its hash is.
type Token struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	AccountID string    `json:"account_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Verdict is the execution-allowed decision surfaced by heartbeat and
// control-state, sourced from the Risk Oracle.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// DefaultPollIntervalSeconds is the platform policy constant returned to a
// freshly registered agent.
const DefaultPollIntervalSeconds = 15

// DefaultTokenTTL bounds how long a minted agent token remains valid absent
// re-registration.
const DefaultTokenTTL = 24 * time.Hour

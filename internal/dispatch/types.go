// Package dispatch implements the Job Dispatcher — the central piece
// owning job and job-result records, eligibility ordering, assignment to
// agents, and state transitions.
package dispatch

import "time"

// JobType enumerates the automation actions a job may request.
type JobType string

const (
	JobVisitProfile      JobType = "VISIT_PROFILE"
	JobSendConnectionReq JobType = "SEND_CONNECTION_REQUEST"
	JobLikePost          JobType = "LIKE_POST"
	JobCommentPost       JobType = "COMMENT_POST"
	JobSendMessage       JobType = "SEND_MESSAGE"
)

// State is a Job's position along its monotone lifecycle DAG.
type State string

const (
	StatePending   State = "PENDING"
	StateAssigned  State = "ASSIGNED"
	StateExecuting State = "EXECUTING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateSkipped   State = "SKIPPED"
)

func (s State) isTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// EventType is an agent-reported lifecycle event for a job.
type EventType string

const (
	EventActionStarted   EventType = "ACTION_STARTED"
	EventActionCompleted EventType = "ACTION_COMPLETED"
	EventWarning         EventType = "WARNING"
	EventInfo            EventType = "INFO"
)

// ResultStatus is the outcome an agent reports for a job.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
	ResultSkipped ResultStatus = "SKIPPED"
)

// ObservedState is what the agent saw on the target profile after acting.
type ObservedState string

const (
	ObservedConnected ObservedState = "CONNECTED"
	ObservedPending   ObservedState = "PENDING"
	ObservedNone      ObservedState = "NONE"
)

// FailureReason enumerates why a job or its result failed.
type FailureReason string

const (
	FailureUIChanged      FailureReason = "UI_CHANGED"
	FailureTimeout        FailureReason = "TIMEOUT"
	FailureSessionExpired FailureReason = "SESSION_EXPIRED"
	FailureUnknown        FailureReason = "UNKNOWN"
)

// Job is a single unit of automation work scoped to one account.
type Job struct {
	ID                    string         `json:"id"`
	AccountID             string         `json:"account_id"`
	CreatedByUserID       string         `json:"created_by_user_id"`
	AssignedAgentID       *string        `json:"assigned_agent_id,omitempty"`
	Type                  JobType        `json:"type"`
	Parameters            map[string]any `json:"parameters"`
	State                 State          `json:"state"`
	Priority              int            `json:"priority"`
	EarliestExecutionTime time.Time      `json:"earliest_execution_time"`
	TimeoutSeconds        int            `json:"timeout_seconds"`
	CreatedAt             time.Time      `json:"created_at"`
	AssignedAt            *time.Time     `json:"assigned_at,omitempty"`
	StartedAt             *time.Time     `json:"started_at,omitempty"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	FailureReason         *FailureReason `json:"failure_reason,omitempty"`
}

// Result is the single, immutable outcome recorded for a Job. Its creation
// is the same atomic action that advances the Job to a terminal state.
type Result struct {
	ID            string         `json:"id"`
	JobID         string         `json:"job_id"`
	AgentID       string         `json:"agent_id"`
	Status        ResultStatus   `json:"status"`
	ObservedState *ObservedState `json:"observed_state,omitempty"`
	FailureReason *FailureReason `json:"failure_reason,omitempty"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// DefaultMaxBatch is the default pull batch size (spec §4.4).
const DefaultMaxBatch = 5

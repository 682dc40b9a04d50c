// Package audit implements the append-only Audit/Observability Sink: a log
// of domain events and screenshot metadata. It is never a source of
// authority — no decision anywhere in the system reads audit content back.
package audit

import "time"

// ActorType identifies who performed the audited action.
type ActorType string

const (
	ActorUser   ActorType = "User"
	ActorAgent  ActorType = "Agent"
	ActorSystem ActorType = "System"
)

// Entry is one append-only audit row.
type Entry struct {
	ID         string         `json:"id"`
	Domain     string         `json:"domain"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorType  ActorType      `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Filter narrows a Query call. Zero-valued fields are unconstrained.
type Filter struct {
	Domain     string
	EntityType string
	EntityID   string
	Since      time.Time
}

package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"dispatchd.dev/internal/ids"
)

// Sink is the append/query surface every other subsystem depends on
// through a narrow local interface (e.g. account.AuditSink). It never
// mutates state anywhere else and is never consulted for a decision.
type Sink struct {
	store Store
	now   func() time.Time
}

// NewSink constructs a Sink.
func NewSink(store Store) (*Sink, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	return &Sink{store: store, now: time.Now}, nil
}

// Append records one domain event. Pure append — no validation beyond
// required fields, no side effects on any other subsystem.
func (s *Sink) Append(ctx context.Context, domain, eventType, entityType, entityID, actorType, actorID string, payload map[string]any) error {
	domain = strings.TrimSpace(domain)
	eventType = strings.TrimSpace(eventType)
	if domain == "" || eventType == "" {
		return errors.New("audit: domain and event_type are required")
	}
	e := &Entry{
		ID:         ids.New(),
		Domain:     domain,
		EventType:  eventType,
		EntityType: strings.TrimSpace(entityType),
		EntityID:   strings.TrimSpace(entityID),
		ActorType:  ActorType(actorType),
		ActorID:    strings.TrimSpace(actorID),
		Payload:    payload,
		Timestamp:  s.now().UTC(),
	}
	return s.store.Append(ctx, e)
}

// Query is a read-only projection over recorded entries.
func (s *Sink) Query(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	return s.store.Query(ctx, f, limit)
}

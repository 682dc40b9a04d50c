package audit

import "context"

// Store persists Entry rows. Audit is multi-writer append-only: every
// subsystem may append, nothing ever updates or deletes a row.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter, limit int) ([]Entry, error)
}

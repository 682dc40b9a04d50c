package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"dispatchd.dev/internal/audit"
)

// AuditStore wraps the pool for internal/audit.Store.
type AuditStore struct{ db *sql.DB }

func (s *Store) AuditStore() *AuditStore { return &AuditStore{db: s.db} }

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_entries (id, domain, event_type, entity_type, entity_id, actor_type,
			actor_id, payload, ts)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Domain, e.EventType, e.EntityType, e.EntityID, e.ActorType, e.ActorID, payload, e.Timestamp)
	return err
}

func (s *AuditStore) Query(ctx context.Context, f audit.Filter, limit int) ([]audit.Entry, error) {
	query := `
		select id, domain, event_type, entity_type, entity_id, actor_type, actor_id, payload, ts
		from audit_entries
		where ($1 = '' or domain = $1)
		  and ($2 = '' or entity_type = $2)
		  and ($3 = '' or entity_id = $3)
		  and ($4::timestamptz is null or ts >= $4)
		order by ts desc
	`
	args := []any{f.Domain, f.EntityType, f.EntityID, nullIfZero(f.Since)}
	if limit > 0 {
		query += ` limit $5`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Domain, &e.EventType, &e.EntityType, &e.EntityID,
			&e.ActorType, &e.ActorID, &payload, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Payload = map[string]any{}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

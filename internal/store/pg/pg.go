// Package pg implements every subsystem's Store interface against
// PostgreSQL, using the same connection-pool and transaction patterns
// across all of them: BeginTx with an explicit isolation level where
// atomicity matters, row locking via SELECT ... FOR UPDATE, an existence
// check inside the transaction for idempotent inserts, and RETURNING to
// avoid a second round trip.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgErrUniqueViolation = "23505"

// Store wraps a pooled *sql.DB and implements every subsystem's Store
// interface as separate method sets across account.go, agentreg.go, risk.go,
// dispatch.go, audit.go, and identity.go.
type Store struct {
	db *sql.DB
}

// Open dials Postgres via pgx's database/sql driver and tunes the pool the
// same way across every deployment of this service.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrUniqueViolation
}

func nullIfZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

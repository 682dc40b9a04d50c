// Package identity resolves externally-authenticated principals to internal
// user ids. The upstream identity provider that actually authenticates end
// users is out of scope (spec §1); this package only verifies the bearer
// token it hands out and keeps the minimal User row the rest of the control
// plane joins against.
package identity

import "time"

// User is the minimal principal row. Only Identity creates it (through
// Service.ResolveOrCreate); it never owns account or job state.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

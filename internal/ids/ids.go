// Package ids generates identifiers for every entity in the control plane.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage
// keys. Because ULIDs embed a millisecond timestamp, two ids minted in the
// same tick still compare in creation order, which the dispatcher's
// (priority DESC, createdAt ASC, jobId ASC) ordering relies on for its final
// tie-break.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

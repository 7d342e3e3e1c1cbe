// Package ids issues the identifiers used on the bus: message ids and
// request correlation ids.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Values are strictly increasing within the process.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewCorrelationID returns an id for a request awaiting a reply. Because the
// underlying ULIDs are monotonic, an id is never issued twice by a process.
func NewCorrelationID() string {
	return CreateULID()
}

// Time extracts the creation time encoded in a ULID produced by CreateULID.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

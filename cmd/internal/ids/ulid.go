// Package ids provides ID primitives (ULID) used for message identity.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable and work well in distributed systems.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Monotonic mints ULIDs that sort strictly in creation order, even when
// several are minted within the same millisecond.
//
// Message ids are assumed to correlate with chronological order, so one
// generator per store is shared by all writers.
type Monotonic struct {
	mu      sync.Mutex
	entropy io.Reader
	last    ulid.ULID
}

// NewMonotonic constructs a Monotonic generator seeded from crypto/rand.
func NewMonotonic() *Monotonic {
	return &Monotonic{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns the next id. A clock that moved backwards is clamped to the
// previous timestamp so ordering still holds.
func (m *Monotonic) New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ms := ulid.Timestamp(now)
	if ms < m.last.Time() {
		ms = m.last.Time()
	}

	id, err := ulid.New(ms, m.entropy)
	if err != nil {
		return "", err
	}
	m.last = id
	return id.String(), nil
}

// Package idx generates lexicographically sortable identifiers backed by
// ULIDs. Pending two-factor setups are keyed by one so ids sort by creation.
package idx

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewAt returns an ID stamped with t. Calls are serialised because the
// monotonic entropy source is not safe for concurrent use.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

func (id ID) String() string { return string(id) }

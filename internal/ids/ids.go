// Package ids issues document identifiers.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source issues monotonic ULIDs. Identifiers minted by one Source sort in
// issue order even within the same millisecond.
type Source struct {
	mu      sync.Mutex
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
}

// NewSource returns a Source reading time from now (time.Now when nil).
func NewSource(now func() time.Time) *Source {
	if now == nil {
		now = time.Now
	}
	return &Source{
		now:     now,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Next returns a fresh identifier.
func (s *Source) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

var std = NewSource(nil)

// New returns an identifier from the process-wide source.
func New() string { return std.Next() }

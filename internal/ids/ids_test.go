package ids

import (
	"testing"
	"time"
)

func TestSourceMonotonicWithinMillisecond(t *testing.T) {
	fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	src := NewSource(func() time.Time { return fixed })

	prev := src.Next()
	for i := 0; i < 100; i++ {
		next := src.Next()
		if next <= prev {
			t.Fatalf("ids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestNewLength(t *testing.T) {
	if got := New(); len(got) != 26 {
		t.Fatalf("unexpected ulid length %d (%s)", len(got), got)
	}
}

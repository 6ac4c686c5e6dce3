// Package stream fans out collection change notifications to live queries.
package stream

import (
	"context"
	"sync"
	"time"
)

// Change announces that a collection was written.
type Change struct {
	Collection string    `json:"collection"`
	DocID      string    `json:"docId,omitempty"`
	At         time.Time `json:"at"`
}

// Stream delivers changes to subscribers of a collection.
//
// Each subscriber holds at most one pending change. A change published while
// one is already pending is dropped: the pending one already forces the
// subscriber to re-read the collection, and the re-read observes both writes.
type Stream struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Change
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[string]map[int]chan Change)}
}

// Subscribe registers interest in collection. The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, collection string) <-chan Change {
	ch := make(chan Change, 1)

	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[int]chan Change)
	}
	s.subs[collection][id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs[collection], id)
		if len(s.subs[collection]) == 0 {
			delete(s.subs, collection)
		}
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish notifies every subscriber of evt.Collection without blocking.
func (s *Stream) Publish(evt Change) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[evt.Collection] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports how many live subscribers collection has.
func (s *Stream) Subscribers(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[collection])
}

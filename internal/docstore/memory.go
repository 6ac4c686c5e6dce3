package docstore

import (
	"context"
	"fmt"
	"sync"

	"carestream.org/internal/ids"
	"carestream.org/internal/records"
	"carestream.org/internal/stream"
)

// Op classifies an operation for backend rules.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Rule mirrors a backend security rule: returning an error refuses the operation.
type Rule func(op Op, kind records.Kind) error

// InMemory is a Client backed by process memory. It is the reference store for
// tests and single-node deployments.
type InMemory struct {
	mu      sync.RWMutex
	docs    map[records.Kind]map[string]map[string]any
	rule    Rule
	ids     *ids.Source
	changes *stream.Stream
}

var _ Client = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		docs:    make(map[records.Kind]map[string]map[string]any),
		ids:     ids.NewSource(nil),
		changes: stream.New(),
	}
}

// SetRule installs r as the backend rule; nil allows everything.
func (s *InMemory) SetRule(r Rule) {
	s.mu.Lock()
	s.rule = r
	s.mu.Unlock()
}

func (s *InMemory) check(op Op, kind records.Kind) error {
	s.mu.RLock()
	rule := s.rule
	s.mu.RUnlock()
	if rule == nil {
		return nil
	}
	if err := rule(op, kind); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRejected, op, kind, err)
	}
	return nil
}

func (s *InMemory) Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	// Register for changes before the first read so no write can slip between them.
	changes := s.changes.Subscribe(ctx, string(q.Kind))
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		for {
			snap := s.run(q)
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			if snap.Err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *InMemory) run(q Query) Snapshot {
	if err := s.check(OpRead, q.Kind); err != nil {
		return Snapshot{Err: err}
	}
	s.mu.RLock()
	docs := make([]Document, 0, len(s.docs[q.Kind]))
	for id, fields := range s.docs[q.Kind] {
		d := Document{ID: id, Fields: fields}
		if !Matches(d, q.Filters) {
			continue
		}
		d.Fields = cloneFields(fields)
		docs = append(docs, d)
	}
	s.mu.RUnlock()
	SortDocuments(docs, q.OrderBy)
	return Snapshot{Docs: docs}
}

func (s *InMemory) Get(ctx context.Context, kind records.Kind, id string) (Document, error) {
	if err := s.check(OpRead, kind); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fields, ok := s.docs[kind][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

func (s *InMemory) Create(ctx context.Context, kind records.Kind, fields map[string]any) (string, error) {
	if err := s.check(OpWrite, kind); err != nil {
		return "", err
	}
	id := s.ids.Next()
	s.put(kind, id, cloneFields(fields))
	return id, nil
}

func (s *InMemory) Set(ctx context.Context, kind records.Kind, id string, fields map[string]any) error {
	if err := s.check(OpWrite, kind); err != nil {
		return err
	}
	s.put(kind, id, cloneFields(fields))
	return nil
}

func (s *InMemory) put(kind records.Kind, id string, fields map[string]any) {
	s.mu.Lock()
	if s.docs[kind] == nil {
		s.docs[kind] = make(map[string]map[string]any)
	}
	s.docs[kind][id] = fields
	s.mu.Unlock()
	s.changes.Publish(stream.Change{Collection: string(kind), DocID: id})
}

func (s *InMemory) Update(ctx context.Context, kind records.Kind, id string, fields map[string]any) error {
	if err := s.check(OpWrite, kind); err != nil {
		return err
	}
	s.mu.Lock()
	cur, ok := s.docs[kind][id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	for k, v := range fields {
		cur[k] = cloneValue(v)
	}
	s.mu.Unlock()
	s.changes.Publish(stream.Change{Collection: string(kind), DocID: id})
	return nil
}

func (s *InMemory) Delete(ctx context.Context, kind records.Kind, id string) error {
	if err := s.check(OpWrite, kind); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.docs[kind][id]
	delete(s.docs[kind], id)
	s.mu.Unlock()
	if existed {
		s.changes.Publish(stream.Change{Collection: string(kind), DocID: id})
	}
	return nil
}

// Len reports how many documents kind holds.
func (s *InMemory) Len(kind records.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[kind])
}

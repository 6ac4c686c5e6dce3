// Package docstore is the boundary between the core and the document store.
//
// Stores are schemaless: they persist untyped field maps keyed by collection and
// id, run simple equality-filtered ordered queries, and push a fresh whole-result
// snapshot to every live query whenever its collection changes.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carestream.org/internal/records"
)

var (
	// ErrNotFound is returned by Get and Update for a missing document.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrRejected is returned when the backend's own access rules refuse an operation.
	ErrRejected = errors.New("docstore: rejected by backend rules")
	// ErrInvalidQuery is returned for queries a store cannot execute.
	ErrInvalidQuery = errors.New("docstore: invalid query")
)

// IDField addresses the document key in filters and orderings.
const IDField = "id"

// Document is one stored document. Fields never contain the id.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Filter restricts a query to documents whose Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Order sorts query results by Field. Ties are broken by document id in the
// same direction, so results are fully ordered.
type Order struct {
	Field string
	Desc  bool
}

// Query selects documents from one collection.
type Query struct {
	Kind    records.Kind
	Filters []Filter
	OrderBy Order
}

// Where returns a copy of q with an additional equality filter.
func (q Query) Where(field string, value any) Query {
	out := q
	out.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return out
}

// Validate reports whether q can be executed.
func (q Query) Validate() error {
	if !q.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, q.Kind)
	}
	for _, f := range q.Filters {
		if strings.TrimSpace(f.Field) == "" {
			return fmt.Errorf("%w: empty filter field", ErrInvalidQuery)
		}
	}
	return nil
}

// String renders q for logs and metrics.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(string(q.Kind))
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where %s==%v", f.Field, f.Value)
	}
	if q.OrderBy.Field != "" {
		dir := "asc"
		if q.OrderBy.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", q.OrderBy.Field, dir)
	}
	return b.String()
}

// Snapshot is the full ordered result of a live query at one point in time.
// A snapshot with a non-nil Err is terminal: the stream closes after it.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Client is implemented by every document store.
type Client interface {
	// Subscribe starts a live query. The first snapshot reflects the current
	// contents; later ones follow every change to the collection. The channel
	// closes when ctx ends or after a terminal snapshot.
	Subscribe(ctx context.Context, q Query) (<-chan Snapshot, error)
	Get(ctx context.Context, kind records.Kind, id string) (Document, error)
	// Create stores fields under a store-assigned id.
	Create(ctx context.Context, kind records.Kind, fields map[string]any) (string, error)
	// Set stores fields under a caller-chosen id, replacing any previous document.
	Set(ctx context.Context, kind records.Kind, id string, fields map[string]any) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, kind records.Kind, id string, fields map[string]any) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, kind records.Kind, id string) error
}

// Feed carries change notifications between processes sharing one backend.
type Feed interface {
	Announce(ctx context.Context, collection string) error
	// Listen blocks, calling deliver for every announced collection, until ctx ends.
	Listen(ctx context.Context, deliver func(collection string)) error
}

// Fetch runs q once and returns its first snapshot.
func Fetch(ctx context.Context, c Client, q Query) ([]Document, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := c.Subscribe(ctx, q)
	if err != nil {
		return nil, err
	}
	select {
	case snap, ok := <-ch:
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("docstore: %s closed before first snapshot", q)
		}
		if snap.Err != nil {
			return nil, snap.Err
		}
		return snap.Docs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

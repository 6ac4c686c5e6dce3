// Package subscription turns store live queries into role-scoped, typed,
// ordered collections owned by views.
//
// A View owns every subscription it opens. Releasing a subscription, or closing
// its view, cancels the underlying live query before returning, so no snapshot
// is delivered afterwards. Each view holds at most one subscription per
// (kind, scope) pair.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"carestream.org/internal/authz"
	"carestream.org/internal/docstore"
	"carestream.org/internal/obs"
	"carestream.org/internal/records"
	"carestream.org/internal/session"
)

var (
	// ErrViewClosed is returned by Open on a closed view.
	ErrViewClosed = errors.New("subscription: view closed")
	// ErrScopeInUse is returned when a view already follows the same kind and
	// scope with a different ordering.
	ErrScopeInUse = errors.New("subscription: scope already open with another ordering")
	// ErrInvalidSpec is returned for specs that name no kind or an incomplete scope.
	ErrInvalidSpec = errors.New("subscription: invalid spec")
)

// Manager opens live collections on behalf of one session.
type Manager struct {
	store docstore.Client
	gate  *authz.Gate
	sess  *session.Context
	log   zerolog.Logger
}

// NewManager returns a manager whose views read through store as sess allows.
func NewManager(store docstore.Client, gate *authz.Gate, sess *session.Context, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		gate:  gate,
		sess:  sess,
		log:   log.With().Str("component", "subscription").Logger(),
	}
}

// NewView returns an empty view. name appears in logs only.
func (m *Manager) NewView(name string) *View {
	return &View{
		m:    m,
		name: name,
		subs: make(map[string]*Subscription),
	}
}

// Query resolves spec against the current session: it checks the gate and
// applies the scope filter. Nothing is sent to the store.
func (m *Manager) Query(spec Spec) (docstore.Query, error) {
	s, err := m.sess.Require()
	if err != nil {
		return docstore.Query{}, err
	}
	if !spec.Kind.Valid() {
		return docstore.Query{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSpec, spec.Kind)
	}

	q := docstore.Query{Kind: spec.Kind, OrderBy: spec.OrderBy}
	op := authz.ReadAll
	switch spec.Scope.Kind {
	case ScopeAll, "":
	case ScopeOwn:
		op = authz.ReadOwn
		q = q.Where(linkField(spec.Kind), s.IdentityID)
	case ScopePatient:
		if spec.Scope.PatientID == "" {
			return docstore.Query{}, fmt.Errorf("%w: patient scope without patient id", ErrInvalidSpec)
		}
		// A patient asking for their own records is an own-scoped read.
		if spec.Scope.PatientID == s.IdentityID && !m.gate.Allowed(s.Role, spec.Kind, authz.ReadAll) {
			op = authz.ReadOwn
		}
		q = q.Where(linkField(spec.Kind), spec.Scope.PatientID)
	default:
		return docstore.Query{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidSpec, spec.Scope.Kind)
	}

	if err := m.gate.Check(s.Role, spec.Kind, op); err != nil {
		obs.Denied(string(spec.Kind), string(op))
		return docstore.Query{}, err
	}
	return q, nil
}

// linkField is the field that ties a document of kind to a patient identity.
func linkField(kind records.Kind) string {
	switch kind {
	case records.KindPatient, records.KindUser:
		return docstore.IDField
	}
	return "patientId"
}

// View groups the subscriptions of one consumer. Close releases them all.
type View struct {
	m    *Manager
	name string

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// Open starts a live collection for spec, or returns the subscription the view
// already holds for the same kind and scope.
func (v *View) Open(ctx context.Context, spec Spec) (*Subscription, error) {
	ctx, span := obs.Tracer("carestream/subscription").Start(ctx, "subscription.Open")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(spec.Kind)), attribute.String("scope", spec.Scope.String()))

	q, err := v.m.Query(spec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	key := spec.key()
	// A subscription the store already ended is replaced, not returned.
	if cur := v.lookup(key); cur != nil && cur.finished() {
		cur.Release()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrViewClosed
	}
	if cur, ok := v.subs[key]; ok {
		if cur.Spec.OrderBy != spec.OrderBy {
			return nil, fmt.Errorf("%w: %s", ErrScopeInUse, spec)
		}
		return cur, nil
	}

	// The subscription lives as long as the view, not the request that opened it.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	raw, err := v.m.store.Subscribe(subCtx, q)
	if err != nil {
		cancel()
		span.RecordError(err)
		return nil, fmt.Errorf("subscribe %s: %w", q, err)
	}

	out := make(chan Snapshot)
	sub := &Subscription{
		Spec:   spec,
		C:      out,
		view:   v,
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    v.m.log.With().Str("view", v.name).Str("query", q.String()).Logger(),
	}
	v.subs[key] = sub
	obs.SubscriptionOpened(string(spec.Kind))
	sub.log.Debug().Msg("subscription opened")
	go sub.pump(subCtx, raw, out)
	return sub, nil
}

// Subscriptions returns the view's open subscriptions.
func (v *View) Subscriptions() []*Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Subscription, 0, len(v.subs))
	for _, s := range v.subs {
		out = append(out, s)
	}
	return out
}

// Close releases every subscription and refuses further opens.
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	subs := make([]*Subscription, 0, len(v.subs))
	for _, s := range v.subs {
		subs = append(subs, s)
	}
	v.mu.Unlock()

	for _, s := range subs {
		s.Release()
	}
}

func (v *View) lookup(key string) *Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.subs[key]
}

func (v *View) forget(key string, s *Subscription) {
	v.mu.Lock()
	if v.subs[key] == s {
		delete(v.subs, key)
	}
	v.mu.Unlock()
}

// Subscription is a live, ordered, typed collection.
type Subscription struct {
	Spec Spec
	// C delivers snapshots in store order. It is closed after Release, after a
	// terminal snapshot, or if the store ends the stream.
	C <-chan Snapshot

	view   *View
	key    string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	log    zerolog.Logger

	mu  sync.Mutex
	err error
}

// Release stops the live query. When it returns no further snapshot will be
// delivered on C. Safe to call more than once.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.view.forget(s.key, s)
		obs.SubscriptionReleased(string(s.Spec.Kind))
		s.log.Debug().Msg("subscription released")
	})
}

func (s *Subscription) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the terminal error, if the store refused the query.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) pump(ctx context.Context, raw <-chan docstore.Snapshot, out chan<- Snapshot) {
	defer close(s.done)
	defer close(out)

	var (
		seq  uint64
		prev map[string]records.Record
	)
	for snap := range raw {
		var next Snapshot
		if snap.Err != nil {
			err := fmt.Errorf("subscription %s: %w", s.Spec, snap.Err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.log.Warn().Err(snap.Err).Msg("store ended subscription")
			next = Snapshot{Seq: seq + 1, Kind: s.Spec.Kind, Err: err}
		} else {
			recs := s.materialise(snap.Docs)
			next = Snapshot{Seq: seq + 1, Kind: s.Spec.Kind, Records: recs, Diff: diff(prev, recs)}
			prev = make(map[string]records.Record, len(recs))
			for _, r := range recs {
				prev[r.RecordID()] = r
			}
		}

		select {
		case out <- next:
			seq++
			obs.SnapshotDelivered(string(s.Spec.Kind))
		case <-ctx.Done():
			return
		}
		if next.Err != nil {
			// The store will not recover this query; the view decides whether to reopen.
			s.cancel()
			return
		}
	}
}

// materialise decodes documents in store order, dropping duplicates and
// documents that do not fit the record type.
func (s *Subscription) materialise(docs []docstore.Document) []records.Record {
	out := make([]records.Record, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		rec, err := records.Decode(s.Spec.Kind, d.ID, d.Fields)
		if err != nil {
			s.log.Warn().Err(err).Str("doc", d.ID).Msg("dropping malformed document")
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Package desk is the per-client entry point to the core: one Desk per
// connected client, owning that client's session and views.
//
// Every mutation follows the same path: session required, gate checked,
// record validated, then a single store write. Results re-enter the client
// only through its live views.
package desk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"carestream.org/internal/audit"
	"carestream.org/internal/authz"
	"carestream.org/internal/docstore"
	"carestream.org/internal/export"
	"carestream.org/internal/identity"
	"carestream.org/internal/lifecycle"
	"carestream.org/internal/linkage"
	"carestream.org/internal/obs"
	"carestream.org/internal/records"
	"carestream.org/internal/session"
	"carestream.org/internal/subscription"
)

// Deps are shared by every Desk in a process.
type Deps struct {
	Store    docstore.Client
	Gate     *authz.Gate
	Renderer export.Renderer
	Audit    *audit.Logger
	Log      zerolog.Logger
	// PhoneRegion is the default region for patient phone numbers.
	PhoneRegion string
	Now         func() time.Time
}

// Desk serves one client.
type Desk struct {
	deps Deps
	log  zerolog.Logger
	sess *session.Context
	subs *subscription.Manager
	life *lifecycle.Machine
	link *linkage.Resolver

	mu    sync.Mutex
	views map[*subscription.View]struct{}
}

// New returns a signed-out desk.
func New(deps Deps) *Desk {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Renderer == nil {
		deps.Renderer = export.NewPDF()
	}
	if deps.Audit == nil {
		deps.Audit = audit.New(deps.Log)
	}
	log := deps.Log.With().Str("component", "desk").Logger()
	sess := session.New(deps.Store, deps.Log)
	return &Desk{
		deps:  deps,
		log:   log,
		sess:  sess,
		subs:  subscription.NewManager(deps.Store, deps.Gate, sess, deps.Log),
		life:  lifecycle.NewMachine(deps.Store, deps.Gate, sess, deps.Log),
		link:  linkage.NewResolver(deps.Store, deps.Log),
		views: make(map[*subscription.View]struct{}),
	}
}

// Session exposes the desk's session context.
func (d *Desk) Session() *session.Context { return d.sess }

// SignIn resolves identityID and makes it the desk's session.
func (d *Desk) SignIn(ctx context.Context, identityID string) (session.Session, error) {
	return identity.Apply(ctx, d.sess, identity.Event{Type: identity.SignedIn, IdentityID: identityID})
}

// SignOut closes every view and clears the session.
func (d *Desk) SignOut() {
	d.mu.Lock()
	views := make([]*subscription.View, 0, len(d.views))
	for v := range d.views {
		views = append(views, v)
	}
	d.views = make(map[*subscription.View]struct{})
	d.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	_, _ = identity.Apply(context.Background(), d.sess, identity.Event{Type: identity.SignedOut})
}

// NewView returns a view that SignOut will close.
func (d *Desk) NewView(name string) *subscription.View {
	v := d.subs.NewView(name)
	d.mu.Lock()
	d.views[v] = struct{}{}
	d.mu.Unlock()
	return v
}

// CloseView releases v and stops tracking it.
func (d *Desk) CloseView(v *subscription.View) {
	d.mu.Lock()
	delete(d.views, v)
	d.mu.Unlock()
	v.Close()
}

// Sections lists the dashboard sections of the current role.
func (d *Desk) Sections() ([]authz.Section, error) {
	s, err := d.sess.Require()
	if err != nil {
		return nil, err
	}
	return authz.Sections(s.Role), nil
}

// mutate runs one gated write and records its outcome.
func (d *Desk) mutate(ctx context.Context, kind records.Kind, op authz.Operation, event string,
	fn func(ctx context.Context, s session.Session) (string, error)) (string, error) {
	ctx, span := obs.Tracer("carestream/desk").Start(ctx, event)
	defer span.End()

	s, err := d.sess.Require()
	if err != nil {
		return "", err
	}
	if err := d.deps.Gate.Check(s.Role, kind, op); err != nil {
		obs.Denied(string(kind), string(op))
		d.record(ctx, s, event, kind, op, "", err)
		return "", err
	}
	id, err := fn(ctx, s)
	d.record(ctx, s, event, kind, op, id, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return id, err
}

func (d *Desk) record(ctx context.Context, s session.Session, event string, kind records.Kind, op authz.Operation, id string, err error) {
	outcome := Outcome(err)
	obs.Mutation(string(kind), string(op), outcome)
	if aerr := d.deps.Audit.Record(ctx, audit.Entry{
		Event:   event,
		Actor:   s.IdentityID,
		Role:    string(s.Role),
		Kind:    string(kind),
		DocID:   id,
		Outcome: outcome,
		Err:     err,
	}); aerr != nil {
		d.log.Error().Err(aerr).Msg("audit write failed")
	}
}

// Outcome classifies a mutation error for metrics and audit.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, authz.ErrNotPermitted):
		return "denied"
	case errors.Is(err, linkage.ErrInvalid):
		return "invalid"
	}
	return "failed"
}

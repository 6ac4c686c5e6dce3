// Package session holds the signed-in identity and its resolved role.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
	"carestream.org/internal/records"
)

// ErrSignedOut is returned when an operation needs a session and none is active.
var ErrSignedOut = errors.New("session: signed out")

// Session is the resolved state of one signed-in identity.
type Session struct {
	IdentityID string
	Role       records.Role
	// Profile is nil when the identity has no user document.
	Profile *records.User
}

// Degraded reports whether the session was resolved without a profile.
func (s Session) Degraded() bool { return s.Profile == nil }

// DisplayName is the profile name, or the identity id when there is no profile.
func (s Session) DisplayName() string {
	if s.Profile != nil && s.Profile.Name != "" {
		return s.Profile.Name
	}
	return s.IdentityID
}

// Context owns the current session of one client. Only SignedIn and SignedOut
// write it; every other component reads it through Current.
type Context struct {
	store docstore.Client
	log   zerolog.Logger

	mu  sync.RWMutex
	cur *Session
	gen uint64
}

// New returns a signed-out context that resolves profiles from store.
func New(store docstore.Client, log zerolog.Logger) *Context {
	return &Context{
		store: store,
		log:   log.With().Str("component", "session").Logger(),
	}
}

// SignedIn resolves the user document for identityID and makes it current.
// A missing or unreadable document yields a usable patient session without a
// profile. A store failure is returned and leaves the current session as it was.
func (c *Context) SignedIn(ctx context.Context, identityID string) (Session, error) {
	if identityID == "" {
		return Session{}, fmt.Errorf("session: empty identity id")
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	s := Session{IdentityID: identityID, Role: records.RolePatient}
	doc, err := c.store.Get(ctx, records.KindUser, identityID)
	switch {
	case err == nil:
		rec, decErr := records.Decode(records.KindUser, doc.ID, doc.Fields)
		if decErr != nil {
			c.log.Warn().Err(decErr).Str("identity", identityID).Msg("user profile unreadable; continuing as patient")
			break
		}
		u := rec.(records.User)
		s.Profile = &u
		s.Role = u.Role
	case errors.Is(err, docstore.ErrNotFound):
		c.log.Info().Str("identity", identityID).Msg("no user profile; continuing as patient")
	default:
		c.log.Warn().Err(err).Str("identity", identityID).Msg("user profile lookup failed")
		return Session{}, fmt.Errorf("sign in %s: %w", identityID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A sign-out or newer sign-in arrived while the profile was loading.
	if c.gen != gen {
		return Session{}, ErrSignedOut
	}
	c.cur = &s
	return s, nil
}

// SignedOut clears the session.
func (c *Context) SignedOut() {
	c.mu.Lock()
	c.gen++
	c.cur = nil
	c.mu.Unlock()
}

// Current returns the active session.
func (c *Context) Current() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cur == nil {
		return Session{}, false
	}
	return *c.cur, true
}

// Require returns the active session or ErrSignedOut.
func (c *Context) Require() (Session, error) {
	s, ok := c.Current()
	if !ok {
		return Session{}, ErrSignedOut
	}
	return s, nil
}

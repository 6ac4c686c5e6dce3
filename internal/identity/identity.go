// Package identity is the boundary to the external identity provider.
//
// The provider authenticates people and issues HS256-signed tokens; this
// package only verifies them and turns provider events into session updates.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"carestream.org/internal/session"
)

// ErrInvalidToken indicates the token failed verification.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims are the provider token claims the core relies on. Subject is the identity id.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks provider tokens.
type Verifier struct {
	secret []byte
	issuer string
	skew   time.Duration
	now    func() time.Time
}

// NewVerifier returns a verifier for tokens signed with secret by issuer.
// An empty issuer accepts any issuer.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: secret is required")
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		skew:   5 * time.Second,
		now:    time.Now,
	}, nil
}

// Verify validates token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithLeeway(v.skew))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := v.validate(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (v *Verifier) validate(c *Claims) error {
	if v.issuer != "" && c.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer %q", c.Issuer)
	}
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	if c.ExpiresAt == nil {
		return errors.New("expiry missing")
	}
	return nil
}

// EventType distinguishes provider events.
type EventType string

const (
	SignedIn  EventType = "signed_in"
	SignedOut EventType = "signed_out"
)

// Event is a provider notification about the client's identity.
type Event struct {
	Type       EventType
	IdentityID string
}

// Apply updates sess for one event.
func Apply(ctx context.Context, sess *session.Context, evt Event) (session.Session, error) {
	switch evt.Type {
	case SignedIn:
		return sess.SignedIn(ctx, evt.IdentityID)
	case SignedOut:
		sess.SignedOut()
		return session.Session{}, nil
	}
	return session.Session{}, fmt.Errorf("identity: unknown event %q", evt.Type)
}

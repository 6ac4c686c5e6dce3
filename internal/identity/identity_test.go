package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
	"carestream.org/internal/records"
	"carestream.org/internal/session"
)

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func validClaims(sub string) Claims {
	now := time.Now()
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "carestream-idp",
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
}

func TestVerify(t *testing.T) {
	v, err := NewVerifier("s3cret", "carestream-idp")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	claims, err := v.Verify(sign(t, "s3cret", validClaims("U1")))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "U1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}

	expired := validClaims("U1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIssuer := validClaims("U1")
	wrongIssuer.Issuer = "elsewhere"
	noSubject := validClaims("")

	bad := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": sign(t, "other", validClaims("U1")),
		"expired":      sign(t, "s3cret", expired),
		"issuer":       sign(t, "s3cret", wrongIssuer),
		"subject":      sign(t, "s3cret", noSubject),
	}
	for name, tok := range bad {
		if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(" ", ""); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestApplySignsInAndOut(t *testing.T) {
	store := docstore.NewInMemory()
	_ = store.Set(context.Background(), records.KindUser, "A1", records.Fields(records.User{Name: "Admin", Role: records.RoleAdmin}))
	sess := session.New(store, zerolog.Nop())

	s, err := Apply(context.Background(), sess, Event{Type: SignedIn, IdentityID: "A1"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.Role != records.RoleAdmin {
		t.Fatalf("role = %s, want admin", s.Role)
	}
	if _, err := Apply(context.Background(), sess, Event{Type: SignedOut}); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, ok := sess.Current(); ok {
		t.Fatal("session should be cleared after sign-out")
	}
}

func TestApplyUnknownEvent(t *testing.T) {
	sess := session.New(docstore.NewInMemory(), zerolog.Nop())
	if _, err := Apply(context.Background(), sess, Event{Type: "refreshed"}); err == nil {
		t.Fatal("expected error for unknown event")
	}
}

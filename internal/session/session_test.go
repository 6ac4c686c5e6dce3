package session

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
	"carestream.org/internal/records"
)

func TestSignedInResolvesProfile(t *testing.T) {
	store := docstore.NewInMemory()
	ctx := context.Background()
	if err := store.Set(ctx, records.KindUser, "U9", records.Fields(records.User{Name: "Dr. Rana", Role: records.RoleDoctor})); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := New(store, zerolog.Nop())
	s, err := c.SignedIn(ctx, "U9")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.Role != records.RoleDoctor || s.Degraded() || s.DisplayName() != "Dr. Rana" {
		t.Fatalf("unexpected session %+v", s)
	}
	if cur, ok := c.Current(); !ok || cur.IdentityID != "U9" {
		t.Fatalf("current not set: %+v %v", cur, ok)
	}
}

func TestSignedInWithoutProfileIsPatient(t *testing.T) {
	c := New(docstore.NewInMemory(), zerolog.Nop())
	s, err := c.SignedIn(context.Background(), "U1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s.Role != records.RolePatient || !s.Degraded() || s.DisplayName() != "U1" {
		t.Fatalf("expected degraded patient session, got %+v", s)
	}
}

func TestSignedInStoreFailureIsReturned(t *testing.T) {
	store := docstore.NewInMemory()
	ctx := context.Background()
	if err := store.Set(ctx, records.KindUser, "D1", records.Fields(records.User{Name: "Dr. Rana", Role: records.RoleDoctor})); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.SetRule(func(docstore.Op, records.Kind) error { return errors.New("offline") })

	c := New(store, zerolog.Nop())
	if _, err := c.SignedIn(ctx, "D1"); !errors.Is(err, docstore.ErrRejected) {
		t.Fatalf("expected store failure, got %v", err)
	}
	if _, ok := c.Current(); ok {
		t.Fatal("failed sign-in must not install a session")
	}

	store.SetRule(nil)
	s, err := c.SignedIn(ctx, "D1")
	if err != nil {
		t.Fatalf("sign in after recovery: %v", err)
	}
	if s.Role != records.RoleDoctor {
		t.Fatalf("role = %s, want doctor", s.Role)
	}
}

func TestSignedOutClears(t *testing.T) {
	c := New(docstore.NewInMemory(), zerolog.Nop())
	if _, err := c.SignedIn(context.Background(), "U1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	c.SignedOut()
	if _, ok := c.Current(); ok {
		t.Fatal("session should be cleared")
	}
	if _, err := c.Require(); !errors.Is(err, ErrSignedOut) {
		t.Fatalf("expected ErrSignedOut, got %v", err)
	}
}

func TestSignedInRejectsEmptyIdentity(t *testing.T) {
	c := New(docstore.NewInMemory(), zerolog.Nop())
	if _, err := c.SignedIn(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty identity")
	}
}

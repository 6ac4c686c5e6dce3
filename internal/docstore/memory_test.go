package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"carestream.org/internal/records"
)

func next(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot stream closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func docIDs(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestSubscribeDeliversInitialAndNewestFirst(t *testing.T) {
	s := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := s.Create(ctx, records.KindAppointment, map[string]any{"createdAt": "2025-01-01T09:00:00.000000Z"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ch, err := s.Subscribe(ctx, Query{Kind: records.KindAppointment, OrderBy: Order{Field: "createdAt", Desc: true}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if snap := next(t, ch); len(snap.Docs) != 1 || snap.Docs[0].ID != first {
		t.Fatalf("unexpected initial snapshot %v", docIDs(snap.Docs))
	}

	second, err := s.Create(ctx, records.KindAppointment, map[string]any{"createdAt": "2025-01-02T09:00:00.000000Z"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	snap := next(t, ch)
	if got := docIDs(snap.Docs); len(got) != 2 || got[0] != second || got[1] != first {
		t.Fatalf("expected newest first, got %v", got)
	}
}

func TestSubscribeFiltersByField(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	mine, _ := s.Create(ctx, records.KindAppointment, map[string]any{"patientId": "U1"})
	_, _ = s.Create(ctx, records.KindAppointment, map[string]any{"patientId": "U2"})

	docs, err := Fetch(ctx, s, Query{Kind: records.KindAppointment}.Where("patientId", "U1"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := docIDs(docs); len(got) != 1 || got[0] != mine {
		t.Fatalf("unexpected filter result %v", got)
	}

	byID, err := Fetch(ctx, s, Query{Kind: records.KindAppointment}.Where(IDField, mine))
	if err != nil || len(byID) != 1 {
		t.Fatalf("id filter failed: %v %v", byID, err)
	}
}

func TestOrderTiesBrokenByID(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a, _ := s.Create(ctx, records.KindPatient, map[string]any{"name": "Same"})
	b, _ := s.Create(ctx, records.KindPatient, map[string]any{"name": "Same"})

	asc, _ := Fetch(ctx, s, Query{Kind: records.KindPatient, OrderBy: Order{Field: "name"}})
	if got := docIDs(asc); got[0] != a || got[1] != b {
		t.Fatalf("ascending ties should follow id order, got %v", got)
	}
	desc, _ := Fetch(ctx, s, Query{Kind: records.KindPatient, OrderBy: Order{Field: "name", Desc: true}})
	if got := docIDs(desc); got[0] != b || got[1] != a {
		t.Fatalf("descending ties should reverse id order, got %v", got)
	}
}

func TestMissingOrderFieldSortsLast(t *testing.T) {
	docs := []Document{
		{ID: "a", Fields: map[string]any{}},
		{ID: "b", Fields: map[string]any{"createdAt": "2025-06-01"}},
		{ID: "c", Fields: map[string]any{"createdAt": "2025-06-02"}},
	}
	for _, tc := range []struct {
		desc bool
		want []string
	}{
		{false, []string{"b", "c", "a"}},
		{true, []string{"c", "b", "a"}},
	} {
		got := append([]Document(nil), docs...)
		SortDocuments(got, Order{Field: "createdAt", Desc: tc.desc})
		ids := docIDs(got)
		for i := range tc.want {
			if ids[i] != tc.want[i] {
				t.Fatalf("desc=%v: got %v, want %v", tc.desc, ids, tc.want)
			}
		}
	}
}

func TestRuleRejectionIsTerminal(t *testing.T) {
	s := NewInMemory()
	s.SetRule(func(op Op, kind records.Kind) error {
		if kind == records.KindUser {
			return errors.New("missing or insufficient permissions")
		}
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, Query{Kind: records.KindUser})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	snap := next(t, ch)
	if !errors.Is(snap.Err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", snap.Err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("stream should close after terminal snapshot")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after terminal snapshot")
	}

	if _, err := s.Create(ctx, records.KindUser, map[string]any{}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected write rejection, got %v", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	id, _ := s.Create(ctx, records.KindAppointment, map[string]any{"status": "pending", "reason": "fever"})

	if err := s.Update(ctx, records.KindAppointment, id, map[string]any{"status": "confirmed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := s.Get(ctx, records.KindAppointment, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Fields["status"] != "confirmed" || doc.Fields["reason"] != "fever" {
		t.Fatalf("update should merge, got %v", doc.Fields)
	}

	if err := s.Update(ctx, records.KindAppointment, "missing", map[string]any{"status": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, records.KindAppointment, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, records.KindAppointment, id); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, records.KindAppointment, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestReadsAreCopies(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	meds := []any{map[string]any{"name": "A"}}
	id, _ := s.Create(ctx, records.KindPrescription, map[string]any{"medicines": meds})
	meds[0].(map[string]any)["name"] = "mutated"

	doc, _ := s.Get(ctx, records.KindPrescription, id)
	doc.Fields["medicines"].([]any)[0].(map[string]any)["name"] = "mutated again"

	again, _ := s.Get(ctx, records.KindPrescription, id)
	if got := again.Fields["medicines"].([]any)[0].(map[string]any)["name"]; got != "A" {
		t.Fatalf("store state leaked to caller: %v", got)
	}
}

func TestSubscribeRejectsInvalidQuery(t *testing.T) {
	s := NewInMemory()
	if _, err := s.Subscribe(context.Background(), Query{Kind: "visits"}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

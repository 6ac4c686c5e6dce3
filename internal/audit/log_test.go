package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestRecord(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf))

	ctx := WithRequestID(context.Background(), "req-123")
	err := l.Record(ctx, Entry{
		Event:   "patient.create",
		Actor:   "R1",
		Role:    "receptionist",
		Kind:    "patients",
		DocID:   "P1",
		Outcome: "ok",
		Fields:  map[string]any{"name": "A. Khan"},
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	checks := map[string]string{
		"type":       "audit",
		"event":      "patient.create",
		"request_id": "req-123",
		"actor":      "R1",
		"doc_id":     "P1",
		"level":      "info",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Fatalf("%s = %v, want %q", k, entry[k], want)
		}
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["name"] != "A. Khan" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestRecordFailureIsWarn(t *testing.T) {
	var buf bytes.Buffer
	l := New(zerolog.New(&buf))
	if err := l.Record(context.Background(), Entry{Event: "appointment.confirm", Outcome: "failed", Err: errors.New("offline")}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["error"] != "offline" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatal("request id should be absent without one in context")
	}
}

func TestRecordRequiresEvent(t *testing.T) {
	if err := New(zerolog.Nop()).Record(context.Background(), Entry{Event: " "}); err == nil {
		t.Fatal("expected error for empty event")
	}
}

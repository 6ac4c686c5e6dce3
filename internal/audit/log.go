// Package audit records who changed which record.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry describes one audited mutation.
type Entry struct {
	Event   string
	Actor   string
	Role    string
	Kind    string
	DocID   string
	Outcome string
	Err     error
	Fields  map[string]any
}

// Logger writes audit entries as structured log lines tagged type=audit.
type Logger struct {
	log zerolog.Logger
}

// New returns an audit logger writing through log.
func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Str("type", "audit").Logger()}
}

// Record writes e, enriched with the request id from ctx.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	e.Event = strings.TrimSpace(e.Event)
	if e.Event == "" {
		return errors.New("audit: event name is required")
	}
	ev := l.log.Info()
	if e.Err != nil {
		ev = l.log.Warn().Err(e.Err)
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	ev.Str("event", e.Event).
		Str("actor", e.Actor).
		Str("role", e.Role).
		Str("kind", e.Kind).
		Str("doc_id", e.DocID).
		Str("outcome", e.Outcome).
		Interface("fields", fields).
		Send()
	return nil
}

// Package lifecycle drives appointment status changes.
//
// States: pending (initial), confirmed, cancelled. confirm and cancel are both
// plain overwrites: neither is refused because of the current status, so the
// last transition applied wins. Nothing returns an appointment to pending.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"carestream.org/internal/authz"
	"carestream.org/internal/docstore"
	"carestream.org/internal/linkage"
	"carestream.org/internal/records"
	"carestream.org/internal/session"
)

// ErrUnknownTransition is returned for transitions other than confirm and cancel.
var ErrUnknownTransition = errors.New("lifecycle: unknown transition")

// Transition names a status change.
type Transition string

const (
	Confirm Transition = "confirm"
	Cancel  Transition = "cancel"
)

// ParseTransition maps a request verb to a Transition.
func ParseTransition(s string) (Transition, error) {
	switch t := Transition(s); t {
	case Confirm, Cancel:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransition, s)
}

// Next returns the status reached by applying t to from. An empty from is a
// pending appointment.
func Next(from records.Status, t Transition) (records.Status, error) {
	if from != "" && !from.Valid() {
		return "", fmt.Errorf("lifecycle: unknown status %q", from)
	}
	switch t {
	case Confirm:
		return records.StatusConfirmed, nil
	case Cancel:
		return records.StatusCancelled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransition, t)
}

// Machine applies transitions on behalf of a session.
type Machine struct {
	store docstore.Client
	gate  *authz.Gate
	sess  *session.Context
	log   zerolog.Logger
}

// NewMachine returns a machine writing through store.
func NewMachine(store docstore.Client, gate *authz.Gate, sess *session.Context, log zerolog.Logger) *Machine {
	return &Machine{store: store, gate: gate, sess: sess, log: log.With().Str("component", "lifecycle").Logger()}
}

// Apply sets the status of appointmentID to the target of t. The role check
// happens before any store call.
func (m *Machine) Apply(ctx context.Context, appointmentID string, t Transition) (records.Status, error) {
	s, err := m.sess.Require()
	if err != nil {
		return "", err
	}
	if err := m.gate.Check(s.Role, records.KindAppointment, authz.UpdateStatus); err != nil {
		return "", err
	}
	if _, err := ParseTransition(string(t)); err != nil {
		return "", err
	}
	if appointmentID == "" {
		return "", fmt.Errorf("%w: appointment id is required", linkage.ErrInvalid)
	}

	doc, err := m.store.Get(ctx, records.KindAppointment, appointmentID)
	if err != nil {
		return "", fmt.Errorf("%s appointment %s: %w", t, appointmentID, err)
	}
	from := currentStatus(doc)
	if from != "" && !from.Valid() {
		m.log.Warn().Str("appointment", appointmentID).Str("status", string(from)).Msg("unknown stored status; overwriting")
		from = ""
	}
	target, err := Next(from, t)
	if err != nil {
		return "", err
	}

	if err := m.store.Update(ctx, records.KindAppointment, appointmentID, map[string]any{"status": string(target)}); err != nil {
		return "", fmt.Errorf("%s appointment %s: %w", t, appointmentID, err)
	}
	m.log.Info().
		Str("appointment", appointmentID).
		Str("from", string(from)).
		Str("status", string(target)).
		Str("by", s.IdentityID).
		Msg("appointment status changed")
	return target, nil
}

func currentStatus(doc docstore.Document) records.Status {
	v, _ := doc.Fields["status"].(string)
	return records.Status(v)
}

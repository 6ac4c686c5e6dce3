package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carestream.org/internal/authz"
	"carestream.org/internal/docstore"
	"carestream.org/internal/lifecycle"
	"carestream.org/internal/linkage"
	"carestream.org/internal/records"
	"carestream.org/internal/session"
)

// ErrAlreadyRegistered is returned by Register for an identity that already
// has a profile. Roles of existing users change only through ChangeRole.
var ErrAlreadyRegistered = errors.New("desk: identity already registered")

// Register writes the profile of identityID. An empty role registers a patient.
// Registration is the profile bootstrap and is not subject to the gate, so it
// only ever creates a profile.
func (d *Desk) Register(ctx context.Context, identityID, name, email string, role records.Role) (records.User, error) {
	if strings.TrimSpace(identityID) == "" {
		return records.User{}, fmt.Errorf("%w: identity id is required", linkage.ErrInvalid)
	}
	if role == "" {
		role = records.RolePatient
	}
	r, ok := records.ParseRole(string(role))
	if !ok {
		return records.User{}, fmt.Errorf("%w: unknown role %q", linkage.ErrInvalid, role)
	}
	switch _, err := d.deps.Store.Get(ctx, records.KindUser, identityID); {
	case err == nil:
		return records.User{}, fmt.Errorf("register %s: %w", identityID, ErrAlreadyRegistered)
	case !errors.Is(err, docstore.ErrNotFound):
		return records.User{}, fmt.Errorf("register %s: %w", identityID, err)
	}
	u := records.User{ID: identityID, Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), Role: r}
	if err := d.deps.Store.Set(ctx, records.KindUser, identityID, records.Fields(u)); err != nil {
		return records.User{}, fmt.Errorf("register %s: %w", identityID, err)
	}
	d.log.Info().Str("identity", identityID).Str("role", string(r)).Msg("user registered")
	return u, nil
}

// CreatePatient stores a new patient and returns its id.
func (d *Desk) CreatePatient(ctx context.Context, p records.Patient) (string, error) {
	return d.mutate(ctx, records.KindPatient, authz.Create, "patient.create", func(ctx context.Context, _ session.Session) (string, error) {
		p.Name = strings.TrimSpace(p.Name)
		if p.Gender == "" {
			p.Gender = records.DefaultGender
		}
		if p.BloodGroup == "" {
			p.BloodGroup = records.DefaultBloodGroup
		}
		p.Phone = records.NormalizePhone(p.Phone, d.deps.PhoneRegion)
		if err := linkage.ValidatePatient(p); err != nil {
			return "", err
		}
		p.CreatedAt = d.deps.Now()
		id, err := d.deps.Store.Create(ctx, records.KindPatient, records.Fields(p))
		if err != nil {
			return "", fmt.Errorf("create patient: %w", err)
		}
		return id, nil
	})
}

// DeletePatient removes a patient. Appointments and prescriptions that
// reference it are left in place and resolve as unresolved afterwards.
func (d *Desk) DeletePatient(ctx context.Context, id string) error {
	_, err := d.mutate(ctx, records.KindPatient, authz.Delete, "patient.delete", func(ctx context.Context, _ session.Session) (string, error) {
		if strings.TrimSpace(id) == "" {
			return "", fmt.Errorf("%w: patient id is required", linkage.ErrInvalid)
		}
		if err := d.deps.Store.Delete(ctx, records.KindPatient, id); err != nil {
			return id, fmt.Errorf("delete patient %s: %w", id, err)
		}
		return id, nil
	})
	return err
}

// BookAppointment stores a pending appointment and returns its id.
func (d *Desk) BookAppointment(ctx context.Context, a records.Appointment) (string, error) {
	return d.mutate(ctx, records.KindAppointment, authz.Create, "appointment.create", func(ctx context.Context, _ session.Session) (string, error) {
		a.Status = records.StatusPending
		if err := linkage.ValidateAppointment(a); err != nil {
			return "", err
		}
		a.CreatedAt = d.deps.Now()
		id, err := d.deps.Store.Create(ctx, records.KindAppointment, records.Fields(a))
		if err != nil {
			return "", fmt.Errorf("create appointment: %w", err)
		}
		return id, nil
	})
}

// ConfirmAppointment sets an appointment to confirmed.
func (d *Desk) ConfirmAppointment(ctx context.Context, id string) (records.Status, error) {
	return d.transition(ctx, id, lifecycle.Confirm)
}

// CancelAppointment sets an appointment to cancelled.
func (d *Desk) CancelAppointment(ctx context.Context, id string) (records.Status, error) {
	return d.transition(ctx, id, lifecycle.Cancel)
}

func (d *Desk) transition(ctx context.Context, id string, t lifecycle.Transition) (records.Status, error) {
	var status records.Status
	_, err := d.mutate(ctx, records.KindAppointment, authz.UpdateStatus, "appointment."+string(t), func(ctx context.Context, _ session.Session) (string, error) {
		st, err := d.life.Apply(ctx, id, t)
		status = st
		return id, err
	})
	return status, err
}

// AddPrescription stores a prescription dated today and returns its id.
func (d *Desk) AddPrescription(ctx context.Context, patientID string, medicines []records.Medicine) (string, error) {
	return d.mutate(ctx, records.KindPrescription, authz.Create, "prescription.create", func(ctx context.Context, _ session.Session) (string, error) {
		now := d.deps.Now()
		rx := records.Prescription{
			PatientID: strings.TrimSpace(patientID),
			Medicines: trimMedicines(medicines),
			Date:      now.Format(records.DateLayout),
			CreatedAt: now,
		}
		if err := linkage.ValidatePrescription(rx); err != nil {
			return "", err
		}
		id, err := d.deps.Store.Create(ctx, records.KindPrescription, records.Fields(rx))
		if err != nil {
			return "", fmt.Errorf("create prescription: %w", err)
		}
		return id, nil
	})
}

func trimMedicines(in []records.Medicine) []records.Medicine {
	out := make([]records.Medicine, len(in))
	for i, m := range in {
		out[i] = records.Medicine{
			Name:   strings.TrimSpace(m.Name),
			Dosage: strings.TrimSpace(m.Dosage),
			Notes:  strings.TrimSpace(m.Notes),
		}
	}
	return out
}

// ChangeRole sets the role of userID.
func (d *Desk) ChangeRole(ctx context.Context, userID string, role records.Role) error {
	_, err := d.mutate(ctx, records.KindUser, authz.ChangeRole, "user.change_role", func(ctx context.Context, _ session.Session) (string, error) {
		r, ok := records.ParseRole(string(role))
		if !ok {
			return userID, fmt.Errorf("%w: unknown role %q", linkage.ErrInvalid, role)
		}
		if strings.TrimSpace(userID) == "" {
			return "", fmt.Errorf("%w: user id is required", linkage.ErrInvalid)
		}
		if err := d.deps.Store.Update(ctx, records.KindUser, userID, map[string]any{"role": string(r)}); err != nil {
			return userID, fmt.Errorf("change role of %s: %w", userID, err)
		}
		return userID, nil
	})
	return err
}

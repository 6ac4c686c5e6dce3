// Package linkage keeps the weak references between patients, appointments and
// prescriptions usable without store-side joins or transactions.
//
// Writes are validated here before they are issued; reads resolve patient ids
// to patients and report a missing patient as an unresolved reference rather
// than an error.
package linkage

import (
	"errors"
	"fmt"
	"strings"

	"carestream.org/internal/records"
)

// ErrInvalid is returned for records that fail create-time validation.
var ErrInvalid = errors.New("linkage: invalid record")

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	return nil
}

// ValidatePatient checks a patient before creation.
func ValidatePatient(p records.Patient) error {
	if err := required("name", p.Name); err != nil {
		return err
	}
	if p.Age < 0 {
		return fmt.Errorf("%w: age must not be negative", ErrInvalid)
	}
	return nil
}

// ValidateAppointment checks an appointment before creation.
func ValidateAppointment(a records.Appointment) error {
	for _, f := range []struct{ name, value string }{
		{"patientId", a.PatientID},
		{"doctorName", a.DoctorName},
		{"date", a.Date},
	} {
		if err := required(f.name, f.value); err != nil {
			return err
		}
	}
	if a.Status != "" && !a.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, a.Status)
	}
	return nil
}

// ValidateMedicine checks one prescription line.
func ValidateMedicine(m records.Medicine) error {
	if err := required("medicine name", m.Name); err != nil {
		return err
	}
	return required("medicine dosage", m.Dosage)
}

// ValidatePrescription checks a prescription before creation.
func ValidatePrescription(p records.Prescription) error {
	if err := required("patientId", p.PatientID); err != nil {
		return err
	}
	if len(p.Medicines) == 0 {
		return fmt.Errorf("%w: at least one medicine is required", ErrInvalid)
	}
	for i, m := range p.Medicines {
		if err := ValidateMedicine(m); err != nil {
			return fmt.Errorf("medicine %d: %w", i+1, err)
		}
	}
	return nil
}

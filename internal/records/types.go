// Package records defines the typed entities exchanged with the document store.
//
// The store is schemaless: documents enter the core as untyped field maps and are
// converted to one of the record types below immediately on ingress (see Decode).
// Outgoing writes are built from the same types through Fields.
package records

import (
	"strings"
	"time"
)

// Kind names a document collection.
type Kind string

const (
	KindUser         Kind = "users"
	KindPatient      Kind = "patients"
	KindAppointment  Kind = "appointments"
	KindPrescription Kind = "prescriptions"
)

// Kinds lists every collection known to the core.
var Kinds = []Kind{KindUser, KindPatient, KindAppointment, KindPrescription}

// Valid reports whether k is a known collection.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindPatient, KindAppointment, KindPrescription:
		return true
	}
	return false
}

// Role is the effective role of a signed-in identity.
type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleAdmin        Role = "admin"
)

// Roles lists every role in display order.
var Roles = []Role{RolePatient, RoleDoctor, RoleReceptionist, RoleAdmin}

// ParseRole returns the role named by s (case-insensitive).
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RolePatient, RoleDoctor, RoleReceptionist, RoleAdmin:
		return r, true
	}
	return "", false
}

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known appointment status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Record is implemented by every typed entity.
type Record interface {
	RecordID() string
	RecordKind() Kind
}

// User is the profile document stored under the identity id.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u User) RecordID() string { return u.ID }
func (User) RecordKind() Kind   { return KindUser }

// Patient is a clinic patient record.
type Patient struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Age        int       `json:"age"`
	Gender     string    `json:"gender"`
	BloodGroup string    `json:"bloodGroup"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	History    string    `json:"history"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (p Patient) RecordID() string { return p.ID }
func (Patient) RecordKind() Kind   { return KindPatient }

// Appointment references a patient by a weak PatientID.
type Appointment struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patientId"`
	DoctorName string    `json:"doctorName"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Reason     string    `json:"reason"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (a Appointment) RecordID() string { return a.ID }
func (Appointment) RecordKind() Kind   { return KindAppointment }

// Medicine is one line of a prescription.
type Medicine struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage"`
	Notes  string `json:"notes"`
}

// Prescription is immutable once created.
type Prescription struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patientId"`
	Medicines []Medicine `json:"medicines"`
	Date      string     `json:"date"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (p Prescription) RecordID() string { return p.ID }
func (Prescription) RecordKind() Kind   { return KindPrescription }

// Patient defaults applied when the intake form leaves them blank.
const (
	DefaultGender     = "Male"
	DefaultBloodGroup = "A+"
)

// DateLayout is the calendar date format used by appointment and prescription dates.
const DateLayout = "2006-01-02"

// TimeLayout is the fixed-width UTC timestamp format used for createdAt fields.
// Fixed width keeps lexical and chronological order identical in every backend.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

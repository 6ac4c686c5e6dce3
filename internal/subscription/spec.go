package subscription

import (
	"fmt"

	"carestream.org/internal/docstore"
	"carestream.org/internal/records"
)

// ScopeKind restricts which documents of a kind a subscription sees.
type ScopeKind string

const (
	// ScopeAll selects every document of the kind.
	ScopeAll ScopeKind = "all"
	// ScopeOwn selects the documents linked to the signed-in identity.
	ScopeOwn ScopeKind = "own"
	// ScopePatient selects the documents linked to one patient.
	ScopePatient ScopeKind = "patient"
)

// Scope is a query restriction derived from role and identity.
type Scope struct {
	Kind      ScopeKind `json:"kind"`
	PatientID string    `json:"patientId,omitempty"`
}

func (s Scope) String() string {
	if s.Kind == ScopePatient {
		return fmt.Sprintf("%s:%s", s.Kind, s.PatientID)
	}
	return string(s.Kind)
}

// Spec describes one live collection.
type Spec struct {
	Kind    records.Kind   `json:"kind"`
	Scope   Scope          `json:"scope"`
	OrderBy docstore.Order `json:"orderBy"`
}

func (s Spec) key() string { return string(s.Kind) + "|" + s.Scope.String() }

func (s Spec) String() string {
	dir := "asc"
	if s.OrderBy.Desc {
		dir = "desc"
	}
	return fmt.Sprintf("%s[%s] by %s %s", s.Kind, s.Scope, s.OrderBy.Field, dir)
}

var (
	newestFirst = docstore.Order{Field: "createdAt", Desc: true}
	byName      = docstore.Order{Field: "name"}
	byDateDesc  = docstore.Order{Field: "date", Desc: true}
)

// Patients lists every patient, newest first.
func Patients() Spec {
	return Spec{Kind: records.KindPatient, Scope: Scope{Kind: ScopeAll}, OrderBy: newestFirst}
}

// PatientsByName lists every patient alphabetically, for pickers.
func PatientsByName() Spec {
	return Spec{Kind: records.KindPatient, Scope: Scope{Kind: ScopeAll}, OrderBy: byName}
}

// Appointments lists every appointment, newest first.
func Appointments() Spec {
	return Spec{Kind: records.KindAppointment, Scope: Scope{Kind: ScopeAll}, OrderBy: newestFirst}
}

// OwnAppointments lists the signed-in patient's appointments, newest first.
func OwnAppointments() Spec {
	return Spec{Kind: records.KindAppointment, Scope: Scope{Kind: ScopeOwn}, OrderBy: newestFirst}
}

// PrescriptionHistory lists one patient's prescriptions, latest date first.
func PrescriptionHistory(patientID string) Spec {
	return Spec{Kind: records.KindPrescription, Scope: Scope{Kind: ScopePatient, PatientID: patientID}, OrderBy: byDateDesc}
}

// OwnPrescriptions lists the signed-in patient's prescriptions, latest date first.
func OwnPrescriptions() Spec {
	return Spec{Kind: records.KindPrescription, Scope: Scope{Kind: ScopeOwn}, OrderBy: byDateDesc}
}

// Users lists every user profile alphabetically.
func Users() Spec {
	return Spec{Kind: records.KindUser, Scope: Scope{Kind: ScopeAll}, OrderBy: byName}
}

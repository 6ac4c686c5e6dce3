package linkage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
	"carestream.org/internal/export"
	"carestream.org/internal/records"
)

// UnresolvedName stands in for the name of a patient that no longer exists.
const UnresolvedName = "Unknown patient"

// Resolution is the outcome of looking up a patient by a weak reference.
type Resolution struct {
	PatientID string
	Resolved  bool
	// Patient is the zero value when Resolved is false.
	Patient records.Patient
}

// Name is the patient's name, or UnresolvedName.
func (r Resolution) Name() string {
	if r.Resolved && r.Patient.Name != "" {
		return r.Patient.Name
	}
	return UnresolvedName
}

// Resolver performs point lookups of referenced patients.
type Resolver struct {
	store docstore.Client
	log   zerolog.Logger
}

// NewResolver returns a resolver reading from store.
func NewResolver(store docstore.Client, log zerolog.Logger) *Resolver {
	return &Resolver{store: store, log: log.With().Str("component", "linkage").Logger()}
}

// ResolvePatient looks up patientID. A missing or unreadable patient is an
// unresolved reference; only store failures are errors.
func (r *Resolver) ResolvePatient(ctx context.Context, patientID string) (Resolution, error) {
	res := Resolution{PatientID: patientID}
	if patientID == "" {
		return res, nil
	}
	doc, err := r.store.Get(ctx, records.KindPatient, patientID)
	if errors.Is(err, docstore.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("resolve patient %s: %w", patientID, err)
	}
	rec, err := records.Decode(records.KindPatient, doc.ID, doc.Fields)
	if err != nil {
		r.log.Warn().Err(err).Str("patient", patientID).Msg("patient document unreadable; treating as unresolved")
		return res, nil
	}
	res.Resolved = true
	res.Patient = rec.(records.Patient)
	return res, nil
}

// ResolveFor resolves the patient referenced by an appointment or prescription.
func (r *Resolver) ResolveFor(ctx context.Context, rec records.Record) (Resolution, error) {
	switch v := rec.(type) {
	case records.Appointment:
		return r.ResolvePatient(ctx, v.PatientID)
	case records.Prescription:
		return r.ResolvePatient(ctx, v.PatientID)
	case records.Patient:
		return Resolution{PatientID: v.ID, Resolved: true, Patient: v}, nil
	}
	return Resolution{}, fmt.Errorf("linkage: %s records do not reference a patient", rec.RecordKind())
}

// Entry is one prescription of a medical history with its resolved patient.
type Entry struct {
	Prescription records.Prescription
	Patient      Resolution
}

// History runs q (a prescription query already scoped by the caller) once and
// resolves each distinct patient id a single time. Unreadable prescriptions are
// skipped; dangling patient ids yield unresolved entries.
func (r *Resolver) History(ctx context.Context, q docstore.Query) ([]Entry, error) {
	if q.Kind != records.KindPrescription {
		return nil, fmt.Errorf("linkage: history needs a prescription query, got %s", q.Kind)
	}
	docs, err := docstore.Fetch(ctx, r.store, q)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	cache := make(map[string]Resolution)
	seen := make(map[string]struct{}, len(docs))
	out := make([]Entry, 0, len(docs))
	for _, d := range docs {
		if _, dup := seen[d.ID]; dup {
			continue
		}
		seen[d.ID] = struct{}{}
		rec, err := records.Decode(records.KindPrescription, d.ID, d.Fields)
		if err != nil {
			r.log.Warn().Err(err).Str("prescription", d.ID).Msg("skipping unreadable prescription")
			continue
		}
		rx := rec.(records.Prescription)
		res, ok := cache[rx.PatientID]
		if !ok {
			res, err = r.ResolvePatient(ctx, rx.PatientID)
			if err != nil {
				return nil, err
			}
			cache[rx.PatientID] = res
		}
		out = append(out, Entry{Prescription: rx, Patient: res})
	}
	return out, nil
}

// Prescription loads one prescription by id.
func (r *Resolver) Prescription(ctx context.Context, id string) (records.Prescription, error) {
	doc, err := r.store.Get(ctx, records.KindPrescription, id)
	if err != nil {
		return records.Prescription{}, fmt.Errorf("load prescription %s: %w", id, err)
	}
	rec, err := records.Decode(records.KindPrescription, doc.ID, doc.Fields)
	if err != nil {
		return records.Prescription{}, err
	}
	return rec.(records.Prescription), nil
}

// Report assembles the export payload for rx. An unresolved patient is
// reported under UnresolvedName.
func (r *Resolver) Report(ctx context.Context, rx records.Prescription) (export.Report, Resolution, error) {
	res, err := r.ResolvePatient(ctx, rx.PatientID)
	if err != nil {
		return export.Report{}, res, err
	}
	meds := make([]export.Medicine, len(rx.Medicines))
	for i, m := range rx.Medicines {
		meds[i] = export.Medicine{Name: m.Name, Dosage: m.Dosage, Notes: m.Notes}
	}
	return export.Report{
		PatientName: res.Name(),
		PatientID:   rx.PatientID,
		Date:        rx.Date,
		Medicines:   meds,
	}, res, nil
}

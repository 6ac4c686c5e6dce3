package desk

import (
	"context"
	"fmt"

	"carestream.org/internal/authz"
	"carestream.org/internal/docstore"
	"carestream.org/internal/export"
	"carestream.org/internal/linkage"
	"carestream.org/internal/records"
	"carestream.org/internal/subscription"
)

// History returns a patient's prescriptions, latest first, each with its
// resolved patient.
func (d *Desk) History(ctx context.Context, patientID string) ([]linkage.Entry, error) {
	q, err := d.subs.Query(subscription.PrescriptionHistory(patientID))
	if err != nil {
		return nil, err
	}
	return d.link.History(ctx, q)
}

// FindPatients returns the patients whose name contains query, alphabetically.
func (d *Desk) FindPatients(ctx context.Context, query string) ([]records.Patient, error) {
	q, err := d.subs.Query(subscription.PatientsByName())
	if err != nil {
		return nil, err
	}
	docs, err := docstore.Fetch(ctx, d.deps.Store, q)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	patients := make([]records.Patient, 0, len(docs))
	for _, doc := range docs {
		rec, err := records.Decode(records.KindPatient, doc.ID, doc.Fields)
		if err != nil {
			d.log.Warn().Err(err).Str("doc", doc.ID).Msg("skipping unreadable patient")
			continue
		}
		patients = append(patients, rec.(records.Patient))
	}
	return records.FilterPatients(patients, query), nil
}

// Document is a rendered export ready for download.
type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportPrescription renders prescriptionID. Staff with read-all may export any
// prescription; a patient only their own.
func (d *Desk) ExportPrescription(ctx context.Context, prescriptionID string) (Document, error) {
	s, err := d.sess.Require()
	if err != nil {
		return Document{}, err
	}
	scope, ok := d.deps.Gate.ReadScope(s.Role, records.KindPrescription)
	if !ok {
		return Document{}, d.deps.Gate.Check(s.Role, records.KindPrescription, authz.ReadAll)
	}

	rx, err := d.link.Prescription(ctx, prescriptionID)
	if err != nil {
		return Document{}, err
	}
	if scope == authz.ReadOwn && rx.PatientID != s.IdentityID {
		return Document{}, fmt.Errorf("%w: prescription %s belongs to another patient", authz.ErrNotPermitted, prescriptionID)
	}

	report, res, err := d.link.Report(ctx, rx)
	if err != nil {
		return Document{}, err
	}
	if !res.Resolved && rx.PatientID == s.IdentityID {
		report.PatientName = s.DisplayName()
	}
	body, err := d.deps.Renderer.Render(report)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Filename:    export.Filename(report),
		ContentType: d.deps.Renderer.ContentType(),
		Body:        body,
	}, nil
}

// Query exposes the gate-checked, scope-filtered query for spec.
func (d *Desk) Query(spec subscription.Spec) (docstore.Query, error) {
	return d.subs.Query(spec)
}

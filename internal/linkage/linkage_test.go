package linkage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"carestream.org/internal/docstore"
	"carestream.org/internal/records"
)

func TestValidateAppointment(t *testing.T) {
	ok := records.Appointment{PatientID: "P1", DoctorName: "Dr. Rana", Date: "2025-06-01"}
	if err := ValidateAppointment(ok); err != nil {
		t.Fatalf("valid appointment rejected: %v", err)
	}
	cases := map[string]records.Appointment{
		"patientId":  {DoctorName: "Dr. Rana", Date: "2025-06-01"},
		"doctorName": {PatientID: "P1", DoctorName: "  ", Date: "2025-06-01"},
		"date":       {PatientID: "P1", DoctorName: "Dr. Rana"},
		"status":     {PatientID: "P1", DoctorName: "Dr. Rana", Date: "2025-06-01", Status: "archived"},
	}
	for name, a := range cases {
		if err := ValidateAppointment(a); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestValidatePrescription(t *testing.T) {
	if err := ValidatePrescription(records.Prescription{PatientID: "P1"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("empty medicines should be invalid, got %v", err)
	}
	noDosage := records.Prescription{PatientID: "P1", Medicines: []records.Medicine{{Name: "Amoxicillin"}}}
	if err := ValidatePrescription(noDosage); !errors.Is(err, ErrInvalid) {
		t.Fatalf("medicine without dosage should be invalid, got %v", err)
	}
	ok := records.Prescription{PatientID: "P1", Medicines: []records.Medicine{{Name: "Amoxicillin", Dosage: "500mg"}}}
	if err := ValidatePrescription(ok); err != nil {
		t.Fatalf("valid prescription rejected: %v", err)
	}
}

func TestValidatePatient(t *testing.T) {
	if err := ValidatePatient(records.Patient{Name: "A. Khan", Age: 30}); err != nil {
		t.Fatalf("valid patient rejected: %v", err)
	}
	if err := ValidatePatient(records.Patient{Age: 30}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("nameless patient should be invalid, got %v", err)
	}
	if err := ValidatePatient(records.Patient{Name: "X", Age: -1}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("negative age should be invalid, got %v", err)
	}
}

func TestResolveAfterPatientDeleted(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	pid, _ := store.Create(ctx, records.KindPatient, records.Fields(records.Patient{
		Name: "A. Khan", Age: 30, Gender: "Male", BloodGroup: "O+", Phone: "0300...", Address: "...",
	}))
	apptID, _ := store.Create(ctx, records.KindAppointment, records.Fields(records.Appointment{
		PatientID: pid, DoctorName: "Dr. Rana", Date: "2025-06-01", Status: records.StatusPending,
	}))
	r := NewResolver(store, zerolog.Nop())

	doc, _ := store.Get(ctx, records.KindAppointment, apptID)
	appt, _ := records.Decode(records.KindAppointment, doc.ID, doc.Fields)

	before, err := r.ResolveFor(ctx, appt)
	if err != nil || !before.Resolved || before.Name() != "A. Khan" {
		t.Fatalf("expected resolved patient, got %+v %v", before, err)
	}

	if err := store.Delete(ctx, records.KindPatient, pid); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after, err := r.ResolveFor(ctx, appt)
	if err != nil {
		t.Fatalf("dangling reference must not be an error: %v", err)
	}
	if after.Resolved || after.Name() != UnresolvedName || after.PatientID != pid {
		t.Fatalf("expected unresolved reference, got %+v", after)
	}
	if store.Len(records.KindAppointment) != 1 {
		t.Fatal("patient deletion must not cascade to appointments")
	}
}

func TestResolveStoreFailureIsError(t *testing.T) {
	store := docstore.NewInMemory()
	store.SetRule(func(docstore.Op, records.Kind) error { return errors.New("offline") })
	r := NewResolver(store, zerolog.Nop())
	if _, err := r.ResolvePatient(context.Background(), "P1"); !errors.Is(err, docstore.ErrRejected) {
		t.Fatalf("expected store failure, got %v", err)
	}
}

func TestHistoryKeepsUnresolvedEntries(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewInMemory()
	live, _ := store.Create(ctx, records.KindPatient, map[string]any{"name": "Ayesha"})
	for _, rx := range []records.Prescription{
		{PatientID: live, Date: "2025-01-10", Medicines: []records.Medicine{{Name: "A", Dosage: "1"}}},
		{PatientID: "gone", Date: "2025-03-01", Medicines: []records.Medicine{{Name: "B", Dosage: "2"}}},
		{PatientID: live, Date: "2025-02-05", Medicines: []records.Medicine{{Name: "C", Dosage: "3"}}},
	} {
		if _, err := store.Create(ctx, records.KindPrescription, records.Fields(rx)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	r := NewResolver(store, zerolog.Nop())
	entries, err := r.History(ctx, docstore.Query{
		Kind:    records.KindPrescription,
		OrderBy: docstore.Order{Field: "date", Desc: true},
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Prescription.Date != "2025-03-01" || entries[0].Patient.Resolved {
		t.Fatalf("dangling entry should be first and unresolved: %+v", entries[0])
	}
	if !entries[1].Patient.Resolved || entries[1].Patient.Name() != "Ayesha" {
		t.Fatalf("expected resolved entry, got %+v", entries[1])
	}

	if _, err := r.History(ctx, docstore.Query{Kind: records.KindPatient}); err == nil {
		t.Fatal("history must refuse non-prescription queries")
	}
}

func TestReportUsesPlaceholder(t *testing.T) {
	r := NewResolver(docstore.NewInMemory(), zerolog.Nop())
	rx := records.Prescription{
		ID:        "rx1",
		PatientID: "gone",
		Date:      "2025-06-01",
		Medicines: []records.Medicine{{Name: "Amoxicillin", Dosage: "500mg", Notes: "after meals"}},
	}
	rep, res, err := r.Report(context.Background(), rx)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if res.Resolved || rep.PatientName != UnresolvedName || rep.PatientID != "gone" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if len(rep.Medicines) != 1 || rep.Medicines[0].Notes != "after meals" {
		t.Fatalf("medicines not copied: %+v", rep.Medicines)
	}
}

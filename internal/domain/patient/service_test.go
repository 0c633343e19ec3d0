package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardsync/wardsync/internal/platform/store"
)

// storeSource resolves lookups straight from the store, standing in for the
// sync engine's snapshot.
type storeSource struct {
	store      store.Store
	collection string
}

func (s *storeSource) Lookup(id string) (*PatientRecord, bool) {
	snap, err := s.store.ListAll(context.Background(), s.collection)
	if err != nil {
		return nil, false
	}
	for _, doc := range snap {
		if doc.ID == id {
			rec, err := FromDocument(doc)
			if err != nil {
				return nil, false
			}
			return rec, true
		}
	}
	return nil, false
}

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	src := &storeSource{store: mem, collection: "patients"}
	svc := NewService(mem, "patients", src, zerolog.Nop(), nil)
	return svc, mem
}

func fixedClock(tm time.Time) func() time.Time {
	return func() time.Time { return tm }
}

func TestAdmit(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetClock(fixedClock(time.Date(2024, 6, 20, 8, 0, 0, 0, time.UTC)))

	rec, err := svc.Admit(context.Background(), "Dr. Vega", AdmitInput{
		BedNumber:     "12",
		FullName:      "Ana Torres",
		DateOfBirth:   "1980-06-25",
		AdmissionDate: "2024-06-20",
		Diagnosis:     "Nephrolithiasis",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Error("admitted record has no store id")
	}
	if rec.Status != StatusHospitalized {
		t.Errorf("status = %q, want hospitalized", rec.Status)
	}
	if rec.Age != 43 {
		t.Errorf("age = %d, want 43 (birthday not yet reached)", rec.Age)
	}
	if len(rec.Notes) != 0 || rec.Notes == nil {
		t.Errorf("new admission must start with an empty ledger, got %#v", rec.Notes)
	}
	if rec.AdmittedBy != "Dr. Vega" {
		t.Errorf("admittedBy = %q", rec.AdmittedBy)
	}
	if rec.ServiceType != ServicePrimary {
		t.Errorf("serviceType defaulted to %q, want HO", rec.ServiceType)
	}
	if rec.DischargeDate != nil || rec.DischargedBy != "" {
		t.Error("discharge fields must be absent while hospitalized")
	}
}

func TestAdmitValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Admit(context.Background(), "Dr. Vega", AdmitInput{BedNumber: "  ", FullName: "X"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("blank bed number: got %v, want ErrValidation", err)
	}
	_, err = svc.Admit(context.Background(), "Dr. Vega", AdmitInput{BedNumber: "1", FullName: " "})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("blank name: got %v, want ErrValidation", err)
	}
	_, err = svc.Admit(context.Background(), "Dr. Vega", AdmitInput{BedNumber: "1", FullName: "X", ServiceType: "XX"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("bad service type: got %v, want ErrValidation", err)
	}
}

func TestEditDemographicsRecomputesAge(t *testing.T) {
	svc, mem := newTestService(t)
	now := time.Date(2024, 6, 20, 8, 0, 0, 0, time.UTC)
	svc.SetClock(fixedClock(now))

	rec, err := svc.Admit(context.Background(), "Dr. Vega", AdmitInput{
		BedNumber: "3", FullName: "Ana Torres", DateOfBirth: "1980-06-25",
	})
	if err != nil {
		t.Fatal(err)
	}

	err = svc.EditDemographics(context.Background(), rec.ID, AdmitInput{
		BedNumber: "3", FullName: "Ana Torres", DateOfBirth: "1990-01-01",
	})
	if err != nil {
		t.Fatal(err)
	}

	src := &storeSource{store: mem, collection: "patients"}
	updated, ok := src.Lookup(rec.ID)
	if !ok {
		t.Fatal("record vanished")
	}
	if want := Age("1990-01-01", now); updated.Age != want {
		t.Errorf("age = %d, want fresh computation %d", updated.Age, want)
	}
	if updated.Status != StatusHospitalized {
		t.Error("edit must not touch status")
	}
}

func TestEditDemographicsRejectsDischarged(t *testing.T) {
	svc, _ := newTestService(t)

	rec, err := svc.Admit(context.Background(), "Dr. Vega", AdmitInput{BedNumber: "3", FullName: "Ana"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Discharge(context.Background(), rec.ID, "Dr. Vega"); err != nil {
		t.Fatal(err)
	}

	err = svc.EditDemographics(context.Background(), rec.ID, AdmitInput{BedNumber: "3", FullName: "Ana"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("editing a discharged record: got %v, want ErrInvalidTransition", err)
	}
}

func TestDischarge(t *testing.T) {
	svc, mem := newTestService(t)
	now := time.Date(2024, 6, 22, 16, 45, 0, 0, time.UTC)
	svc.SetClock(fixedClock(now))

	rec, err := svc.Admit(context.Background(), "Dr. Vega", AdmitInput{BedNumber: "8", FullName: "Luis Vega"})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Discharge(context.Background(), rec.ID, "Dr. Ruiz"); err != nil {
		t.Fatal(err)
	}

	src := &storeSource{store: mem, collection: "patients"}
	updated, _ := src.Lookup(rec.ID)
	if updated.Status != StatusDischarged {
		t.Fatalf("status = %q, want discharged", updated.Status)
	}
	if updated.DischargedBy != "Dr. Ruiz" {
		t.Errorf("dischargedBy = %q", updated.DischargedBy)
	}
	if updated.DischargeDate == nil || !updated.DischargeDate.Equal(now) {
		t.Errorf("dischargeDate = %v, want %v", updated.DischargeDate, now)
	}

	// Double discharge is a no-op with error, not a silent success.
	err = svc.Discharge(context.Background(), rec.ID, "Dr. Ruiz")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second discharge: got %v, want ErrInvalidTransition", err)
	}

	// And the record never moves back to hospitalized.
	final, _ := src.Lookup(rec.ID)
	if final.Status != StatusDischarged {
		t.Errorf("status regressed to %q", final.Status)
	}
}

func TestDischargeUnknownPatient(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Discharge(context.Background(), "missing", "Dr. Vega")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

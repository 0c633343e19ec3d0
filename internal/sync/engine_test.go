package sync

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardsync/wardsync/internal/domain/patient"
	"github.com/wardsync/wardsync/internal/platform/store"
)

func startEngine(t *testing.T, mem *store.Memory) (*Engine, chan []*patient.PatientRecord, context.CancelFunc) {
	t.Helper()
	applied := make(chan []*patient.PatientRecord, 16)
	engine := NewEngine(mem, "patients", zerolog.Nop(), nil)
	engine.AddListener(func(records []*patient.PatientRecord) {
		applied <- records
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		engine.Stop()
	})
	return engine, applied, cancel
}

func waitApplied(t *testing.T, applied chan []*patient.PatientRecord) []*patient.PatientRecord {
	t.Helper()
	select {
	case records := <-applied:
		return records
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot application")
	}
	return nil
}

func addPatient(t *testing.T, mem *store.Memory, bed, name, status string) string {
	t.Helper()
	id, err := mem.Add(context.Background(), "patients", store.Fields{
		"bedNumber": bed,
		"fullName":  name,
		"status":    status,
		"notes":     []any{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestEngineSortsEverySnapshot(t *testing.T) {
	mem := store.NewMemory()
	// Insert out of order; snapshots must still come out bed-sorted.
	for _, bed := range []string{"12", "2", "B1", "1", "A3"} {
		addPatient(t, mem, bed, "Patient "+bed, "hospitalized")
	}

	engine, applied, _ := startEngine(t, mem)
	waitApplied(t, applied)

	records, err := engine.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1", "2", "12", "A3", "B1"}
	if len(records) != len(want) {
		t.Fatalf("snapshot has %d records, want %d", len(records), len(want))
	}
	for i, w := range want {
		if records[i].BedNumber != w {
			t.Errorf("position %d = %q, want %q", i, records[i].BedNumber, w)
		}
	}
}

func TestEngineAppliesChangesAsFullReplacements(t *testing.T) {
	mem := store.NewMemory()
	addPatient(t, mem, "5", "Ana", "hospitalized")

	engine, applied, _ := startEngine(t, mem)
	waitApplied(t, applied)

	id := addPatient(t, mem, "2", "Luis", "hospitalized")
	records := waitApplied(t, applied)
	if len(records) != 2 || records[0].BedNumber != "2" {
		t.Fatalf("delivery not applied as sorted replacement: %+v", records)
	}

	rec, ok := engine.Lookup(id)
	if !ok || rec.FullName != "Luis" {
		t.Fatalf("Lookup(%q) failed after snapshot apply", id)
	}
}

func TestEngineBackfillsMissingHistory(t *testing.T) {
	mem := store.NewMemory()
	// A record written before medicalHistory existed.
	if _, err := mem.Add(context.Background(), "patients", store.Fields{
		"bedNumber": "1", "fullName": "Old Record", "status": "hospitalized",
	}); err != nil {
		t.Fatal(err)
	}

	engine, applied, _ := startEngine(t, mem)
	waitApplied(t, applied)

	records, err := engine.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if records[0].MedicalHistory != (patient.MedicalHistory{}) {
		t.Errorf("history = %+v, want empty default", records[0].MedicalHistory)
	}
	if records[0].Notes == nil {
		t.Error("ledger is nil, want empty")
	}
}

func TestEngineFilteredView(t *testing.T) {
	mem := store.NewMemory()
	addPatient(t, mem, "1", "Ana Torres", "hospitalized")
	addPatient(t, mem, "2", "Luis Vega", "discharged")

	engine, applied, _ := startEngine(t, mem)
	waitApplied(t, applied)

	active, err := engine.FilteredView(patient.StatusHospitalized, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].FullName != "Ana Torres" {
		t.Fatalf("active view = %+v", active)
	}

	found, err := engine.FilteredView(patient.StatusHospitalized, "TORRES")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 {
		t.Fatalf("case-insensitive search returned %d records", len(found))
	}
}

func TestEngineTeardownStopsDeliveries(t *testing.T) {
	mem := store.NewMemory()
	engine, applied, cancel := startEngine(t, mem)
	waitApplied(t, applied)

	cancel()
	engine.Stop()

	if engine.Live() {
		t.Error("engine still live after Stop")
	}
	if _, err := engine.Snapshot(); err == nil {
		t.Error("Snapshot after teardown must fail rather than serve a stale view")
	}

	// A change after teardown must not reach the listener.
	addPatient(t, mem, "9", "Late", "hospitalized")
	select {
	case <-applied:
		t.Error("listener invoked after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEngineLifecycleMonotonicity(t *testing.T) {
	mem := store.NewMemory()
	id := addPatient(t, mem, "1", "Ana", "hospitalized")

	engine, applied, _ := startEngine(t, mem)
	waitApplied(t, applied)

	if err := mem.UpdateFields(context.Background(), "patients", id, store.Fields{
		"status": "discharged", "dischargedBy": "Dr. Vega",
	}); err != nil {
		t.Fatal(err)
	}
	waitApplied(t, applied)

	rec, _ := engine.Lookup(id)
	if rec.Status != patient.StatusDischarged {
		t.Fatalf("status = %q, want discharged", rec.Status)
	}
}

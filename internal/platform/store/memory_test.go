package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

func TestMemorySubscribeDeliversFullSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := NewMemory()

	if _, err := m.Add(ctx, "patients", Fields{"bedNumber": "1"}); err != nil {
		t.Fatal(err)
	}

	ch, err := m.Subscribe(ctx, "patients")
	if err != nil {
		t.Fatal(err)
	}

	initial := waitSnapshot(t, ch)
	if len(initial) != 1 {
		t.Fatalf("initial snapshot has %d docs, want 1", len(initial))
	}

	if _, err := m.Add(ctx, "patients", Fields{"bedNumber": "2"}); err != nil {
		t.Fatal(err)
	}
	next := waitSnapshot(t, ch)
	if len(next) != 2 {
		t.Fatalf("delivery after add has %d docs, want 2 (full replacement, not a diff)", len(next))
	}
}

func TestMemorySubscribeTeardown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()

	ch, err := m.Subscribe(ctx, "patients")
	if err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, ch)

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return // closed, no orphaned listener
			}
		case <-deadline:
			t.Fatal("channel not closed after context cancellation")
		}
	}
}

func TestMemoryUpdateFieldsMerges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Add(ctx, "patients", Fields{"bedNumber": "1", "status": "hospitalized"})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateFields(ctx, "patients", id, Fields{"status": "discharged"}); err != nil {
		t.Fatal(err)
	}

	snap, err := m.ListAll(ctx, "patients")
	if err != nil {
		t.Fatal(err)
	}
	if snap[0].Fields["status"] != "discharged" || snap[0].Fields["bedNumber"] != "1" {
		t.Errorf("partial update lost fields: %#v", snap[0].Fields)
	}

	if err := m.UpdateFields(ctx, "patients", "missing", Fields{"x": 1}); err == nil {
		t.Error("expected ErrNotFound for unknown id")
	}
}

func TestMemoryTransactSerializesConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Add(ctx, "patients", Fields{"notes": []any{}})
	if err != nil {
		t.Fatal(err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := m.Transact(ctx, "patients", id, func(fields Fields) (Fields, error) {
				ledger, _ := fields["notes"].([]any)
				fields["notes"] = append(ledger, n)
				return fields, nil
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	snap, _ := m.ListAll(ctx, "patients")
	ledger, _ := snap[0].Fields["notes"].([]any)
	if len(ledger) != writers {
		t.Fatalf("ledger has %d entries, want %d (no lost updates)", len(ledger), writers)
	}
}

func TestMemorySnapshotsDoNotAliasStoreState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Add(ctx, "patients", Fields{"history": map[string]any{"dm": false}})
	if err != nil {
		t.Fatal(err)
	}

	snap, _ := m.ListAll(ctx, "patients")
	snap[0].Fields["history"].(map[string]any)["dm"] = true

	again, _ := m.ListAll(ctx, "patients")
	if again[0].Fields["history"].(map[string]any)["dm"] != false {
		t.Errorf("mutating a returned snapshot leaked into store state for %s", id)
	}
}

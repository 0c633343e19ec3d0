// Package sync owns the live view of the patient collection. The engine
// holds the only subscription, reduces every full-collection delivery into a
// fresh sorted snapshot, and swaps it in atomically so readers never observe
// a partially applied or unsorted list.
package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wardsync/wardsync/internal/domain/patient"
	"github.com/wardsync/wardsync/internal/platform/metrics"
	"github.com/wardsync/wardsync/internal/platform/store"
)

// ErrNotLive reports that the subscription has failed and the engine refuses
// to keep serving a stale view. It wraps store.ErrUnavailable so transport
// layers can map both to the same outcome.
var ErrNotLive = fmt.Errorf("sync subscription lost: %w", store.ErrUnavailable)

// Listener receives each applied snapshot, already normalized and sorted.
type Listener func(records []*patient.PatientRecord)

type state struct {
	records []*patient.PatientRecord
	byID    map[string]*patient.PatientRecord
}

// Engine maintains the authoritative in-memory snapshot of the patient
// collection. Mutations never go through the engine; they round-trip through
// the store and come back on the change feed.
type Engine struct {
	store      store.Store
	collection string
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	snap atomic.Pointer[state]
	live atomic.Bool

	mu        sync.Mutex
	listeners []Listener
	lastErr   error

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(st store.Store, collection string, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	e := &Engine{
		store:      st,
		collection: collection,
		logger:     logger,
		metrics:    m,
		done:       make(chan struct{}),
	}
	e.snap.Store(&state{byID: map[string]*patient.PatientRecord{}})
	return e
}

// AddListener registers a snapshot listener. Must be called before Start.
func (e *Engine) AddListener(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Start subscribes to the collection and applies deliveries until the
// context is cancelled or Stop is called. The first snapshot is applied
// before Start returns, so callers immediately see a consistent view.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	ch, err := e.store.Subscribe(ctx, e.collection)
	if err != nil {
		cancel()
		close(e.done)
		return fmt.Errorf("subscribe %s: %w", e.collection, err)
	}

	select {
	case snap, ok := <-ch:
		if !ok {
			cancel()
			close(e.done)
			return fmt.Errorf("subscribe %s: feed closed: %w", e.collection, ErrNotLive)
		}
		e.apply(snap)
	case <-ctx.Done():
		cancel()
		close(e.done)
		return ctx.Err()
	}
	e.live.Store(true)

	go func() {
		defer close(e.done)
		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					if ctx.Err() == nil {
						e.fail(fmt.Errorf("change feed closed: %w", ErrNotLive))
					}
					e.live.Store(false)
					return
				}
				e.apply(snap)
			case <-ctx.Done():
				e.live.Store(false)
				return
			}
		}
	}()
	return nil
}

// Stop tears the subscription down and waits for the apply loop to exit.
// No listener callbacks run after Stop returns.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.live.Store(false)
}

// apply reduces one full-collection delivery into a fresh snapshot and swaps
// it in. Undecodable documents are logged and skipped rather than poisoning
// the whole view.
func (e *Engine) apply(snap store.Snapshot) {
	records := make([]*patient.PatientRecord, 0, len(snap))
	byID := make(map[string]*patient.PatientRecord, len(snap))
	for _, doc := range snap {
		rec, err := patient.FromDocument(doc)
		if err != nil {
			e.logger.Error().Err(err).Str("document_id", doc.ID).Msg("skipping undecodable patient document")
			continue
		}
		records = append(records, rec)
		byID[rec.ID] = rec
	}
	patient.SortByBed(records)

	e.snap.Store(&state{records: records, byID: byID})
	e.metrics.IncSnapshotsApplied()
	e.logger.Debug().Int("patients", len(records)).Msg("snapshot applied")

	e.mu.Lock()
	listeners := e.listeners
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(records)
	}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	e.metrics.IncStoreErrors()
	e.logger.Error().Err(err).Str("collection", e.collection).Msg("sync error")
}

// Live reports whether the engine is still receiving deliveries.
func (e *Engine) Live() bool { return e.live.Load() }

// Err returns the subscription failure, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Snapshot returns the current sorted census. It fails once the
// subscription is lost, so callers are never handed a silently stale view.
func (e *Engine) Snapshot() ([]*patient.PatientRecord, error) {
	if !e.live.Load() {
		return nil, ErrNotLive
	}
	return e.snap.Load().records, nil
}

// Lookup returns one record from the current snapshot by document id.
func (e *Engine) Lookup(id string) (*patient.PatientRecord, bool) {
	rec, ok := e.snap.Load().byID[id]
	return rec, ok
}

// FilteredView filters the snapshot by status and an optional
// case-insensitive search term over name, bed, and diagnosis. Pure;
// recomputed on demand.
func (e *Engine) FilteredView(status patient.Status, term string) ([]*patient.PatientRecord, error) {
	records, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return patient.Filter(records, status, term), nil
}

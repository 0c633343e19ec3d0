package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and single-node deployments.
// A single mutex serializes all mutations, which gives Transact its
// single-document isolation for free: no two transactions ever interleave.
type Memory struct {
	mu          sync.Mutex
	collections map[string]*memCollection
}

type memCollection struct {
	order []string
	docs  map[string]Fields
	subs  map[int]chan Snapshot
	next  int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) coll(name string) *memCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memCollection{
			docs: make(map[string]Fields),
			subs: make(map[int]chan Snapshot),
		}
		m.collections[name] = c
	}
	return c
}

func (c *memCollection) snapshot() Snapshot {
	snap := make(Snapshot, 0, len(c.order))
	for _, id := range c.order {
		snap = append(snap, Document{ID: id, Fields: Clone(c.docs[id])})
	}
	return snap
}

// broadcast pushes a fresh snapshot to every subscriber. Called with the
// store mutex held. A slow subscriber is skipped for this delivery; it will
// catch up on the next change.
func (c *memCollection) broadcast() {
	for _, ch := range c.subs {
		select {
		case ch <- c.snapshot():
		default:
		}
	}
}

func (m *Memory) Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error) {
	m.mu.Lock()
	c := m.coll(collection)
	id := c.next
	c.next++
	ch := make(chan Snapshot, 8)
	c.subs[id] = ch
	ch <- c.snapshot()
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(c.subs, id)
		m.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (m *Memory) ListAll(_ context.Context, collection string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coll(collection).snapshot(), nil
}

func (m *Memory) Add(_ context.Context, collection string, fields Fields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	id := uuid.NewString()
	c.docs[id] = Clone(fields)
	c.order = append(c.order, id)
	c.broadcast()
	return id, nil
}

func (m *Memory) UpdateFields(_ context.Context, collection, id string, partial Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	doc, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	for k, v := range partial {
		doc[k] = cloneValue(v)
	}
	c.broadcast()
	return nil
}

func (m *Memory) Transact(_ context.Context, collection, id string, fn UpdateFn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	doc, ok := c.docs[id]
	if !ok {
		return fmt.Errorf("transact %s/%s: %w", collection, id, ErrNotFound)
	}
	updated, err := fn(Clone(doc))
	if err != nil {
		return err
	}
	c.docs[id] = Clone(updated)
	c.broadcast()
	return nil
}

// Package store abstracts the shared document store the ward census runs
// against: named collections of schemaless documents with full-collection
// change subscriptions, single-document field updates, and transactional
// read-modify-write on a single document.
package store

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable reports a transient I/O or backend failure. Callers
	// receive it once; the core does not retry on its own.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound reports that a document id does not exist in the collection.
	ErrNotFound = errors.New("document not found")
)

// Fields is the schemaless body of a document.
type Fields map[string]any

// Document is one stored document together with its store-assigned id.
type Document struct {
	ID     string
	Fields Fields
}

// Snapshot is the entire current contents of a collection, in store order.
// Every subscription delivery is a full replacement, never a diff.
type Snapshot []Document

// UpdateFn transforms the current fields of a document inside a transaction.
// It may be invoked more than once if the store retries a conflicting
// transaction, so it must be free of side effects.
type UpdateFn func(current Fields) (Fields, error)

// Store is the remote collection store contract.
type Store interface {
	// Subscribe delivers the full collection snapshot immediately and again
	// after every change, until ctx is cancelled. The returned channel is
	// closed on teardown; no listener survives cancellation.
	Subscribe(ctx context.Context, collection string) (<-chan Snapshot, error)

	// ListAll returns the current collection contents once.
	ListAll(ctx context.Context, collection string) (Snapshot, error)

	// Add creates a document and returns its store-assigned id.
	Add(ctx context.Context, collection string, fields Fields) (string, error)

	// UpdateFields replaces the given top-level fields of one document,
	// leaving all other fields untouched. Last write wins.
	UpdateFields(ctx context.Context, collection, id string, partial Fields) error

	// Transact runs fn against the document's current fields under
	// single-document isolation and writes the result back. Conflicting
	// concurrent transactions are retried by the store, not the caller.
	Transact(ctx context.Context, collection, id string, fn UpdateFn) error
}

// Clone returns a deep copy of fields so that snapshots handed to consumers
// never alias store-internal state.
func Clone(fields Fields) Fields {
	if fields == nil {
		return nil
	}
	out := make(Fields, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

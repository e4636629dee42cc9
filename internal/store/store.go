// internal/store/store.go
package store

import "context"

// Document is the raw key/value form every aggregate serializes to. Values
// follow encoding/json conventions (numbers decode as float64).
type Document = map[string]interface{}

// Event announces that a document changed. Subscribers re-fetch the document
// themselves; the event carries no state beyond the identity of what moved.
type Event struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Deleted    bool   `json:"deleted"`
}

// Tx is the view of the store inside an optimistic transaction. Reads observe
// committed state and register conflict watches; writes are staged and applied
// atomically when the transaction function returns nil.
type Tx interface {
	Get(collection, id string) (Document, error)
	Set(collection, id string, doc Document)
	Delete(collection, id string)
}

// Batch stages writes across many documents that commit as one atomic unit.
// Unlike Tx it performs no reads and never conflicts.
type Batch interface {
	Set(collection, id string, doc Document)
	Delete(collection, id string)
	Push(queue string, payload []byte)
}

// Store is the document database capability the lobby engine is built on: an
// atomic read-modify-write transaction per document, an atomic multi-document
// batch, and a change-notification subscription.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, doc Document) error
	Update(ctx context.Context, collection, id, field string, value interface{}) error
	Delete(ctx context.Context, collection, id string) error

	// RunTransaction retries fn on conflicting concurrent writers up to the
	// store's retry budget, then fails with ErrConflict.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	RunBatch(ctx context.Context, fn func(b Batch) error) error

	// Query returns every document in the collection accepted by filter.
	// Documents that cannot be decoded are skipped, not surfaced.
	Query(ctx context.Context, collection string, filter func(Document) bool) ([]Document, error)

	// Subscribe streams change events for one document (id != "") or a whole
	// collection (id == ""). The channel closes when ctx is done.
	Subscribe(ctx context.Context, collection, id string) (<-chan Event, error)
}

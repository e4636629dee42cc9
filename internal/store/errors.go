// internal/store/errors.go
package store

import "errors"

// ErrNotFound indicates the requested document does not exist. A document that
// fails to decode is reported the same way, so one corrupt entry reads as
// absent rather than poisoning its caller.
var ErrNotFound = errors.New("document not found")

// ErrAlreadyExists indicates a create collided with an existing document id.
var ErrAlreadyExists = errors.New("document already exists")

// ErrConflict indicates an optimistic transaction kept losing to concurrent
// writers past the retry budget.
var ErrConflict = errors.New("transaction conflict: retry budget exhausted")

// ErrUnavailable wraps network or backend failures talking to the store.
var ErrUnavailable = errors.New("store unavailable")

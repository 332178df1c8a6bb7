// Package blob defines the compare-and-swap object store abstraction the
// engine persists workflow state into. One workflow is one object; the store
// needs nothing beyond conditional reads and writes, which keeps backends as
// simple as an S3 bucket or a single Redis hash per key.
package blob

import (
	"context"
	"errors"
)

// ErrConflict is returned by Put when the supplied CAS token does not match
// the stored object, or when creating and the object already exists. Callers
// reload and retry; the engine never surfaces conflicts to user code.
var ErrConflict = errors.New("blob: conflict")

// Rec is a stored object together with its current CAS token.
type Rec struct {
	// Data is the raw object payload.
	Data []byte
	// CAS is the opaque token a subsequent conditional Put must present.
	CAS string
}

// Store is a flat keyspace of objects with conditional writes. All
// operations honor context cancellation. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the object at key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) (*Rec, error)
	// Put writes data at key and returns the new CAS token. An empty cas
	// creates the object and fails with ErrConflict when it already exists;
	// a non-empty cas applies the write only when it matches the stored
	// token, failing with ErrConflict otherwise.
	Put(ctx context.Context, key string, data []byte, cas string) (string, error)
}

// Package storage defines the key-value backend interface used by the
// gateway's persistent stores.
package storage

import "context"

// Store is a key-value backend.
//
//   - Keys are strings; hierarchical paths use "/" separators
//   - Values are opaque bytes, usually JSON
//   - Operations are context-aware for cancellation
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores data at key, overwriting any existing value
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the data at key. A missing key yields an error wrapping
	// errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys starting with prefix in lexicographic order.
	// An empty prefix lists every key.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

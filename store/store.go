// Package store persists the turnout roster as opaque key/value records.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is a key/value store for roster records.
type Store interface {
	// Load returns the value stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save stores value under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Close releases the store.
	Close() error
}

package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired
var ErrNotFound = errors.New("key not found")

// KeyValueStore is the narrow persistence contract of change tracking
type KeyValueStore interface {
	// Get returns the value stored at key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A ttl of zero never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error
}

// Store adds atomic read-modify-write, prefix scans and lifecycle to KeyValueStore
type Store interface {
	KeyValueStore

	// Update atomically replaces the value at key with fn(old). old is nil when the key is absent.
	// A nil value returned by fn leaves the key untouched. Concurrent updates of the same key are
	// serialized: fn sees the value committed by the previous update.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(old []byte) ([]byte, error)) error

	// Scan calls fn for every live key with prefix, in key order
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// DeletePrefix removes every key with prefix and returns how many were removed
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases the store
	Close() error
}

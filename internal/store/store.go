// Package store provides the key-value persistence layer. The engine keeps
// all durable records (active sync state, history, auth cache, rate-limit
// history) behind a small async interface so process restarts never lose
// progress beyond the in-flight call.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("key not found")

// Store is the minimal key-value contract the engine persists through.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the raw value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Well-known keys of the persisted layout.
const (
	KeyAuthCache        = "authCache"
	KeyActiveSyncState  = "activeSyncState"
	KeySyncHistory      = "syncHistory"
	KeyRateLimitHistory = "rateLimitHistory"
)

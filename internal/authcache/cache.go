// Package authcache caches authentication probes per platform. TTLs are
// asymmetric: a negative probe expires fast because the user may log in at
// any moment, while a positive one is cheap to trust for longer.
package authcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crosspost-dev/crosspost/internal/store"
)

const (
	// TTLAuthenticated is how long a positive probe stays valid.
	TTLAuthenticated = 5 * time.Minute

	// TTLUnauthenticated is how long a negative probe stays valid.
	TTLUnauthenticated = 30 * time.Second
)

// Entry is one cached probe result.
type Entry struct {
	IsAuthenticated bool      `json:"isAuthenticated"`
	Username        string    `json:"username,omitempty"`
	Avatar          string    `json:"avatar,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// TTL returns the validity window for this entry.
func (e *Entry) TTL() time.Duration {
	if e.IsAuthenticated {
		return TTLAuthenticated
	}
	return TTLUnauthenticated
}

// Cache persists probe entries in the key-value store under one map key.
// The read-modify-write of the map is serialized by an in-process lock;
// concurrent writers from other processes are not supported.
type Cache struct {
	mu  sync.Mutex
	kv  store.Store
	now func() time.Time
}

// New creates a cache over the store.
func New(kv store.Store) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

func (c *Cache) load(ctx context.Context) (map[string]Entry, error) {
	raw, err := c.kv.Get(ctx, store.KeyAuthCache)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries := make(map[string]Entry)
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode auth cache: %w", err)
	}
	return entries, nil
}

func (c *Cache) save(ctx context.Context, entries map[string]Entry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode auth cache: %w", err)
	}
	return c.kv.Set(ctx, store.KeyAuthCache, raw)
}

// Get returns the cached entry for a platform, or nil when absent.
func (c *Cache) Get(ctx context.Context, platformID string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	e, ok := entries[platformID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Put records a probe result, stamping it with the current time when the
// entry carries none.
func (c *Cache) Put(ctx context.Context, platformID string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(ctx)
	if err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now()
	}
	entries[platformID] = entry
	return c.save(ctx, entries)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	return c.kv.Remove(ctx, store.KeyAuthCache)
}

// Valid reports whether the entry is still within its TTL.
func (c *Cache) Valid(entry *Entry) bool {
	if entry == nil {
		return false
	}
	return c.now().Sub(entry.Timestamp) < entry.TTL()
}

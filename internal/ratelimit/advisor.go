// Package ratelimit implements the soft dispatch guard. It never blocks a
// sync; it only warns when the same destinations were hit again too soon,
// which is what tends to trip platform-side abuse detection.
package ratelimit

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
	// OverlapWindow is how recently an overlapping dispatch must have
	// happened to draw a warning.
	OverlapWindow = 5 * time.Minute

	// Retention bounds how long dispatch records are kept.
	Retention = 24 * time.Hour
)

// Record is one successful dispatch.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Platforms []string  `json:"platforms"`
}

// Advisor reads and writes dispatch records through the key-value store.
type Advisor struct {
	mu  sync.Mutex
	kv  store.Store
	now func() time.Time
}

// New creates an advisor.
func New(kv store.Store) *Advisor {
	return &Advisor{kv: kv, now: time.Now}
}

func (a *Advisor) load(ctx context.Context) ([]Record, error) {
	raw, err := a.kv.Get(ctx, store.KeyRateLimitHistory)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode rate-limit history: %w", err)
	}
	return records, nil
}

func (a *Advisor) save(ctx context.Context, records []Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode rate-limit history: %w", err)
	}
	return a.kv.Set(ctx, store.KeyRateLimitHistory, raw)
}

// Advise returns a warning string when a dispatch overlapping platformIDs
// happened within OverlapWindow, and "" otherwise. It never blocks.
func (a *Advisor) Advise(ctx context.Context, platformIDs []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.load(ctx)
	if err != nil {
		return "", err
	}

	wanted := make(map[string]bool, len(platformIDs))
	for _, id := range platformIDs {
		wanted[id] = true
	}

	cutoff := a.now().Add(-OverlapWindow)
	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		for _, id := range r.Platforms {
			if wanted[id] {
				ago := a.now().Sub(r.Timestamp).Round(time.Second)
				return fmt.Sprintf("platform %s was synced %s ago; rapid repeat syncs may trigger destination rate limits", id, ago), nil
			}
		}
	}
	return "", nil
}

// Note appends a record for a finished dispatch and prunes expired entries
// in the same write.
func (a *Advisor) Note(ctx context.Context, platformIDs []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.load(ctx)
	if err != nil {
		return err
	}
	records = append(records, Record{Timestamp: a.now(), Platforms: platformIDs})
	return a.save(ctx, a.pruned(records))
}

// Prune drops records older than Retention. Run periodically.
func (a *Advisor) Prune(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.load(ctx)
	if err != nil {
		return err
	}
	return a.save(ctx, a.pruned(records))
}

func (a *Advisor) pruned(records []Record) []Record {
	cutoff := a.now().Add(-Retention)
	kept := records[:0]
	for _, r := range records {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

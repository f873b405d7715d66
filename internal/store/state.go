package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/crosspost-dev/crosspost/internal/domain"
)

// HistoryCap bounds the persisted sync history. Oldest entries fall off.
const HistoryCap = 25

// StateStore is the typed view over the persisted layout. All writes are
// write-through: every mutation lands in the backing store before the call
// returns, so a crash mid-sync loses at most the in-flight operation.
type StateStore struct {
	kv Store
}

// NewStateStore wraps a key-value store.
func NewStateStore(kv Store) *StateStore {
	return &StateStore{kv: kv}
}

// ActiveSyncState returns the current sync state, or nil when no sync has
// been recorded.
func (s *StateStore) ActiveSyncState(ctx context.Context) (*domain.SyncState, error) {
	raw, err := s.kv.Get(ctx, KeyActiveSyncState)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state domain.SyncState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode active sync state: %w", err)
	}
	return &state, nil
}

// SaveActiveSyncState persists the state immediately.
func (s *StateStore) SaveActiveSyncState(ctx context.Context, state *domain.SyncState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	return s.kv.Set(ctx, KeyActiveSyncState, raw)
}

// ClearActiveSyncState removes the active sync record.
func (s *StateStore) ClearActiveSyncState(ctx context.Context) error {
	return s.kv.Remove(ctx, KeyActiveSyncState)
}

// History returns recorded syncs, newest first.
func (s *StateStore) History(ctx context.Context) ([]domain.SyncState, error) {
	raw, err := s.kv.Get(ctx, KeySyncHistory)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []domain.SyncState
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode sync history: %w", err)
	}
	return history, nil
}

// AppendHistory prepends one entry, or replaces the entry with the same sync
// id when it already exists, keeping at most HistoryCap entries.
func (s *StateStore) AppendHistory(ctx context.Context, entry *domain.SyncState) error {
	history, err := s.History(ctx)
	if err != nil {
		return err
	}

	updated := make([]domain.SyncState, 0, len(history)+1)
	updated = append(updated, *entry)
	for _, h := range history {
		if h.SyncID == entry.SyncID {
			continue
		}
		updated = append(updated, h)
	}
	if len(updated) > HistoryCap {
		updated = updated[:HistoryCap]
	}

	raw, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode sync history: %w", err)
	}
	return s.kv.Set(ctx, KeySyncHistory, raw)
}

// HistoryEntry returns one recorded sync by id.
func (s *StateStore) HistoryEntry(ctx context.Context, syncID string) (*domain.SyncState, error) {
	history, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	for i := range history {
		if history[i].SyncID == syncID {
			return &history[i], nil
		}
	}
	return nil, ErrNotFound
}

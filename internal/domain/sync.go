package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncStatus is the lifecycle status of one sync run. Terminal statuses are
// final: a SyncState in a terminal status is never mutated again.
type SyncStatus int32

const (
	SyncStatusUnknown SyncStatus = iota
	SyncStatusSyncing
	SyncStatusCompleted
	SyncStatusFailed
	SyncStatusCancelled
)

// String returns the string representation of the status.
func (s SyncStatus) String() string {
	switch s {
	case SyncStatusSyncing:
		return "syncing"
	case SyncStatusCompleted:
		return "completed"
	case SyncStatusFailed:
		return "failed"
	case SyncStatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s SyncStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSyncStatus(str)
	return nil
}

// ParseSyncStatus converts a string to SyncStatus.
func ParseSyncStatus(s string) SyncStatus {
	switch s {
	case "syncing":
		return SyncStatusSyncing
	case "completed":
		return SyncStatusCompleted
	case "failed":
		return SyncStatusFailed
	case "cancelled":
		return SyncStatusCancelled
	default:
		return SyncStatusUnknown
	}
}

// IsTerminal returns true if this status represents a terminal state.
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusCompleted || s == SyncStatusFailed || s == SyncStatusCancelled
}

// SyncResult records the outcome for one platform within one sync run. It is
// created exactly once per platform per run and is immutable once appended.
type SyncResult struct {
	PlatformID   string    `json:"platformId"`
	PlatformName string    `json:"platformName"`
	Success      bool      `json:"success"`
	PostID       string    `json:"postId,omitempty"`
	PostURL      string    `json:"postUrl,omitempty"`
	DraftOnly    bool      `json:"draftOnly,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SyncState is the durable record of one sync run. It is the single source
// of truth for "is a sync in progress" across process restarts. Only the
// orchestrator mutates it, and only until it reaches a terminal status.
type SyncState struct {
	SyncID            string       `json:"syncId"`
	Status            SyncStatus   `json:"status"`
	Article           *Article     `json:"article"`
	SelectedPlatforms []string     `json:"selectedPlatforms"`
	Results           []SyncResult `json:"results"`
	StartTime         time.Time    `json:"startTime"`
}

// ResultFor returns the recorded result for a platform, if any.
func (s *SyncState) ResultFor(platformID string) (SyncResult, bool) {
	for _, r := range s.Results {
		if r.PlatformID == platformID {
			return r, true
		}
	}
	return SyncResult{}, false
}

// FailedPlatforms returns the ids of platforms whose result was a failure.
func (s *SyncState) FailedPlatforms() []string {
	var out []string
	for _, r := range s.Results {
		if !r.Success {
			out = append(out, r.PlatformID)
		}
	}
	return out
}

// Counts returns succeeded and failed result counts.
func (s *SyncState) Counts() (succeeded, failed int) {
	for _, r := range s.Results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// PublishResult is what an adapter returns from a publish call.
type PublishResult struct {
	Success bool   `json:"success"`
	PostID  string `json:"postId,omitempty"`
	PostURL string `json:"postUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

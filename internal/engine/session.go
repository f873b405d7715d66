// Package engine implements the dispatch orchestrator: it fans one article
// out to the selected platforms in bounded concurrency windows, records
// every outcome durably as it arrives, and supports cooperative
// cancellation and partial retry.
package engine

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Session represents one active sync run. Exactly one session may exist at
// a time; it owns the shared cancellation flag for the run.
type Session struct {
	id        string
	cancelled atomic.Bool
}

// NewSession creates a session with a fresh sync id.
func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

// newSessionWithID reuses a sync id, as retry-failed does.
func newSessionWithID(id string) *Session {
	return &Session{id: id}
}

// ID returns the sync id.
func (s *Session) ID() string { return s.id }

// Cancel sets the cancellation flag. In-flight publish calls are not
// aborted; they finish naturally or hit their own timeout. Only work not
// yet started is skipped.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// Cancelled reports whether the session has been cancelled.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosspost-dev/crosspost/internal/uploader"
)

const (
	// MaxUploadSessions caps concurrently open chunk sessions.
	MaxUploadSessions = 5

	// SessionInactivityTimeout force-clears a session that has seen no
	// chunk for this long.
	SessionInactivityTimeout = 60 * time.Second
)

var (
	// ErrSessionNotFound is returned for an unknown or already-destroyed
	// upload id. A timed-out session reports the same error.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrTooManySessions is returned when the open-session cap is reached.
	ErrTooManySessions = errors.New("too many concurrent upload sessions")

	// ErrSessionExists is returned by Start when the caller-supplied upload
	// id already names a live session.
	ErrSessionExists = errors.New("upload session already open")

	// ErrIncompleteUpload is returned by Complete when a chunk is missing.
	// The session stays open so the missing chunk can be re-sent.
	ErrIncompleteUpload = errors.New("upload incomplete")
)

type uploadSession struct {
	filename string
	mimeType string
	total    int
	chunks   map[int][]byte
	timer    *time.Timer
}

// SessionManager tracks chunked upload sessions. A session is destroyed
// exactly once: by completion, by abort, or by the inactivity timer.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*uploadSession
	max      int
	ttl      time.Duration
}

// NewSessionManager creates a manager with the default cap and timeout.
func NewSessionManager() *SessionManager {
	return newSessionManager(MaxUploadSessions, SessionInactivityTimeout)
}

func newSessionManager(max int, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*uploadSession),
		max:      max,
		ttl:      ttl,
	}
}

// Start opens a session and returns its upload id. The caller picks the id;
// an empty uploadID gets a generated one. At most one live session may hold
// a given id.
func (m *SessionManager) Start(uploadID, filename, mimeType string, totalChunks int) (string, error) {
	if totalChunks <= 0 {
		return "", fmt.Errorf("total chunks must be positive, got %d", totalChunks)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uploadID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := m.sessions[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if len(m.sessions) >= m.max {
		return "", ErrTooManySessions
	}

	s := &uploadSession{
		filename: filename,
		mimeType: mimeType,
		total:    totalChunks,
		chunks:   make(map[int][]byte, totalChunks),
	}
	s.timer = time.AfterFunc(m.ttl, func() { m.expire(id) })
	m.sessions[id] = s
	return id, nil
}

// AddChunk records one chunk and resets the inactivity timer. Chunks may
// arrive out of order; re-sending an index overwrites it.
func (m *SessionManager) AddChunk(uploadID string, index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[uploadID]
	if !ok {
		return ErrSessionNotFound
	}
	if index < 0 || index >= s.total {
		return fmt.Errorf("chunk index %d out of range [0,%d)", index, s.total)
	}

	s.chunks[index] = append([]byte(nil), data...)
	s.timer.Reset(m.ttl)
	return nil
}

// Complete assembles the chunks in index order and destroys the session.
// A missing chunk fails closed: the error is returned and the session is
// left open for the caller to re-send and try again.
func (m *SessionManager) Complete(uploadID string) (uploader.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[uploadID]
	if !ok {
		return uploader.Blob{}, ErrSessionNotFound
	}

	size := 0
	for i := 0; i < s.total; i++ {
		chunk, ok := s.chunks[i]
		if !ok {
			return uploader.Blob{}, fmt.Errorf("%w: missing chunk %d of %d", ErrIncompleteUpload, i, s.total)
		}
		size += len(chunk)
	}

	data := make([]byte, 0, size)
	for i := 0; i < s.total; i++ {
		data = append(data, s.chunks[i]...)
	}

	m.destroyLocked(uploadID)
	return uploader.Blob{Data: data, MIME: s.mimeType, Filename: s.filename}, nil
}

// Abort destroys a session without assembling it.
func (m *SessionManager) Abort(uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[uploadID]; !ok {
		return ErrSessionNotFound
	}
	m.destroyLocked(uploadID)
	return nil
}

// Count returns the number of open sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) expire(uploadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// The timer may race a just-finished Complete; destroyLocked on a gone
	// session is a no-op.
	m.destroyLocked(uploadID)
}

func (m *SessionManager) destroyLocked(uploadID string) {
	if s, ok := m.sessions[uploadID]; ok {
		s.timer.Stop()
		delete(m.sessions, uploadID)
	}
}

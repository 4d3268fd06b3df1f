// Package session owns the live recognition sessions and their windows.
package session

import (
	"sync"
	"time"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
	"github.com/yashindibhagya/GestureConnect/internal/window"
)

// Session is one client's recognition state. All window access goes through
// the session so that operations on the same session never interleave.
type Session struct {
	id        string
	transport entity.TransportKind
	createdAt time.Time

	mu       sync.Mutex
	window   *window.Window
	lastSeen time.Time
	frames   uint64
}

func newSession(id string, transport entity.TransportKind, capacity int, now time.Time) *Session {
	return &Session{
		id:        id,
		transport: transport,
		createdAt: now,
		window:    window.New(capacity),
		lastSeen:  now,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Transport() entity.TransportKind {
	return s.transport
}

// Push appends v to the window and returns the resulting window length.
func (s *Session) Push(v entity.KeypointVector) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window.Push(v)
	s.frames++
	s.lastSeen = time.Now()
	return s.window.Len()
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window.Reset()
	s.lastSeen = time.Now()
}

// Sequence returns a frozen view of the window that stays valid after the
// session lock is released, so inference can run without holding it.
func (s *Session) Sequence() *Frozen {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = time.Now()
	return &Frozen{
		ready:   s.window.Ready(),
		vectors: s.window.Snapshot(),
	}
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Len()
}

func (s *Session) Info() entity.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return entity.SessionInfo{
		ID:             s.id,
		Transport:      s.transport.String(),
		WindowLength:   s.window.Len(),
		WindowCapacity: s.window.Cap(),
		FramesIngested: s.frames,
		CreatedAt:      s.createdAt,
		LastSeenAt:     s.lastSeen,
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Frozen is a point-in-time copy of a window's readiness and contents.
type Frozen struct {
	ready   bool
	vectors []entity.KeypointVector
}

func (f *Frozen) Ready() bool {
	return f.ready
}

func (f *Frozen) Snapshot() []entity.KeypointVector {
	out := make([]entity.KeypointVector, len(f.vectors))
	copy(out, f.vectors)
	return out
}

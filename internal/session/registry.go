package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yashindibhagya/GestureConnect/internal/entity"
	"github.com/yashindibhagya/GestureConnect/pkg/log"
)

const (
	DefaultSessionID = "default"

	trackerQueueSize = 1024
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrTransportMismatch = errors.New("session belongs to another transport")
	ErrSessionLimit      = errors.New("too many discrete sessions")
)

// Tracker is told about every session the registry creates or destroys.
// Calls are made from a single goroutine, in the order the registry changed,
// so a session's SessionCreated always precedes its SessionDestroyed.
// Failures are the tracker's to log.
type Tracker interface {
	SessionCreated(ctx context.Context, info entity.SessionInfo)
	SessionDestroyed(ctx context.Context, id string)
}

type RegistryOption func(*Registry)

// WithTracker reports session changes to tracker off the request path.
// Registries built with a tracker must be closed.
func WithTracker(tracker Tracker) RegistryOption {
	return func(r *Registry) {
		r.tracker = tracker
	}
}

// WithDiscreteLimit caps the number of live discrete sessions. Zero means no
// limit.
func WithDiscreteLimit(limit int) RegistryOption {
	return func(r *Registry) {
		r.discreteLimit = limit
	}
}

type trackerEvent struct {
	created bool
	info    entity.SessionInfo
}

// Registry is the single owner of all live sessions.
type Registry struct {
	log           *logrus.Logger
	capacity      int
	discreteLimit int
	tracker       Tracker

	mu       sync.RWMutex
	sessions map[string]*Session
	discrete int

	events chan trackerEvent
	closed bool
	done   chan struct{}
}

// NewRegistry creates a registry whose sessions hold windows of the given
// capacity.
func NewRegistry(log *logrus.Logger, capacity int, opts ...RegistryOption) *Registry {
	r := &Registry{
		log:      log,
		capacity: capacity,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.tracker != nil {
		r.events = make(chan trackerEvent, trackerQueueSize)
		r.done = make(chan struct{})
		go r.dispatch()
	}
	return r
}

// Create registers a new session under a random id.
func (r *Registry) Create(transport entity.TransportKind) *Session {
	s := newSession(uuid.NewString(), transport, r.capacity, time.Now())

	r.mu.Lock()
	r.add(s)
	r.mu.Unlock()

	r.logChange(s, "Session created")
	return s
}

// GetOrCreate returns the session registered under id, creating it if needed.
// An existing session of another transport is never handed out
// (ErrTransportMismatch), and a new discrete session is refused once the
// discrete limit is reached (ErrSessionLimit).
func (r *Registry) GetOrCreate(id string, transport entity.TransportKind) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return matchTransport(s, transport)
	}

	r.mu.Lock()
	if s, ok = r.sessions[id]; ok {
		r.mu.Unlock()
		return matchTransport(s, transport)
	}
	if transport == entity.TransportDiscrete && r.discreteLimit > 0 && r.discrete >= r.discreteLimit {
		r.mu.Unlock()
		return nil, ErrSessionLimit
	}
	s = newSession(id, transport, r.capacity, time.Now())
	r.add(s)
	r.mu.Unlock()

	r.logChange(s, "Session created")
	return s, nil
}

func matchTransport(s *Session, transport entity.TransportKind) (*Session, error) {
	if s.transport != transport {
		return nil, ErrTransportMismatch
	}
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Destroy clears the session's window and removes it. It reports whether the
// session existed.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		if s.transport == entity.TransportDiscrete {
			r.discrete--
		}
		r.notify(trackerEvent{info: entity.SessionInfo{ID: id, Transport: s.transport.String()}})
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.Reset()
	r.logChange(s, "Session destroyed")
	return true
}

func (r *Registry) List() []entity.SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]entity.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap destroys discrete sessions that have been idle for longer than ttl and
// returns how many were removed. Streaming sessions live as long as their
// connection and are never reaped.
func (r *Registry) Reap(ttl time.Duration, now time.Time) int {
	if ttl <= 0 {
		return 0
	}

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.transport != entity.TransportDiscrete {
			continue
		}
		if now.Sub(s.idleSince()) > ttl {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if r.Destroy(id) {
			removed++
		}
	}
	return removed
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = max(ttl/2, time.Millisecond)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Reap(ttl, now); n > 0 {
				r.log.WithFields(log.Fields{
					"removed": n,
					"ttl":     ttl.String(),
				}).Info("Reaped idle discrete sessions")
			}
		}
	}
}

// add registers s. Callers hold r.mu, which also fixes the order of tracker
// events.
func (r *Registry) add(s *Session) {
	r.sessions[s.id] = s
	if s.transport == entity.TransportDiscrete {
		r.discrete++
	}
	r.notify(trackerEvent{created: true, info: s.Info()})
}

func (r *Registry) logChange(s *Session, msg string) {
	r.log.WithFields(log.Fields{
		"session_id": s.id,
		"transport":  s.transport.String(),
	}).Debug(msg)
}

// notify queues a tracker event without blocking. Callers hold r.mu.
func (r *Registry) notify(ev trackerEvent) {
	if r.events == nil || r.closed {
		return
	}

	select {
	case r.events <- ev:
	default:
		r.log.WithFields(log.Fields{
			"session_id": ev.info.ID,
			"created":    ev.created,
		}).Warn("Session tracker queue full, dropping event")
	}
}

func (r *Registry) dispatch() {
	defer close(r.done)

	for ev := range r.events {
		if ev.created {
			r.tracker.SessionCreated(context.Background(), ev.info)
		} else {
			r.tracker.SessionDestroyed(context.Background(), ev.info.ID)
		}
	}
}

// Close stops accepting tracker events and waits until the queued ones have
// been delivered. Sessions stay usable.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.events == nil || r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	<-r.done
}

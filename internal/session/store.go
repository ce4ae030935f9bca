// Package session tracks interactive sessions and their per-session state.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Session is the per-client context object. It lives until expired.
type Session struct {
	ID        string
	CreatedAt time.Time
	Guard     *AutoStartGuard

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen returns the last time the session was touched.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// Store holds sessions keyed by id. Ids whose guard had fired when they
// were removed are remembered, so recreating them never re-arms auto-start.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	fired    map[string]struct{}
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		fired:    make(map[string]struct{}),
		now:      time.Now,
	}
}

// Create registers a new session with a random id.
func (s *Store) Create() *Session {
	now := s.now()
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Guard:     &AutoStartGuard{},
		lastSeen:  now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session for id and marks it as seen.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(s.now())
	return sess, nil
}

// GetOrCreate returns the session for id, creating it under that id if absent.
// Clients that bring their own id keep one guard across requests.
func (s *Store) GetOrCreate(id string) *Session {
	if id == "" {
		return s.Create()
	}
	if sess, err := s.Get(id); err == nil {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	guard := &AutoStartGuard{}
	if _, ok := s.fired[id]; ok {
		guard.fired.Store(true)
		delete(s.fired, id)
	}

	now := s.now()
	sess := &Session{
		ID:        id,
		CreatedAt: now,
		Guard:     guard,
		lastSeen:  now,
	}
	s.sessions[id] = sess
	return sess
}

// Delete removes a session. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		s.removeLocked(sess)
	}
	s.mu.Unlock()
}

func (s *Store) removeLocked(sess *Session) {
	if sess.Guard.Fired() {
		s.fired[sess.ID] = struct{}{}
	}
	delete(s.sessions, sess.ID)
}

// List returns all sessions ordered by creation time.
func (s *Store) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Expire removes sessions idle for longer than maxIdle, skipping ids for
// which keep returns true. It returns the removed ids.
func (s *Store) Expire(maxIdle time.Duration, keep func(id string) bool) []string {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, sess := range s.sessions {
		if !sess.LastSeen().Before(cutoff) {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		s.removeLocked(sess)
		removed = append(removed, id)
	}
	sort.Strings(removed)
	return removed
}

// Package session provides the process-wide in-memory session store.
//
// Sessions are keyed by (application, user, session id) and live for the
// lifetime of the process. Nothing is persisted across restarts.
package session

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/citycast/internal/domain"
)

// Key identifies one session.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
}

// String renders the key for logs.
func (k Key) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID
}

// Event is one entry in a session's history.
type Event struct {
	ID           string            `json:"id"`
	InvocationID string            `json:"invocation_id"`
	Author       string            `json:"author"`
	Content      domain.Content    `json:"content"`
	Final        bool              `json:"final"`
	StateDelta   map[string]string `json:"state_delta,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Session holds the ordered history and named output slots for one key.
// All methods are safe for concurrent use.
type Session struct {
	key       Key
	createdAt time.Time

	mu        sync.RWMutex
	events    []*Event
	state     map[string]string
	updatedAt time.Time
}

func newSession(key Key, now time.Time) *Session {
	return &Session{
		key:       key,
		createdAt: now,
		updatedAt: now,
		state:     make(map[string]string),
	}
}

// Key returns the identifier triple of the session.
func (s *Session) Key() Key { return s.key }

// CreatedAt returns when the session was allocated.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns when the session last received an event.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// State returns a snapshot of the output slots.
func (s *Session) State() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state)
}

// Value returns the latest value written under key.
func (s *Session) Value(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// Events returns a snapshot of the history in append order.
func (s *Session) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// AppendEvent records an event and applies its state delta.
func (s *Session) AppendEvent(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.events = append(s.events, e)
	for k, v := range e.StateDelta {
		s.state[k] = v
	}
	s.updatedAt = e.Timestamp
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no session exists for a key.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyExists is returned when creating a session that already exists.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrSessionBusy is returned under PolicyReject when another request holds the session.
	ErrSessionBusy = errors.New("session is in use by another request")
)

// Policy decides what happens when two requests target the same session.
type Policy string

const (
	// PolicySerialize makes later requests wait for the earlier one to finish.
	PolicySerialize Policy = "serialize"
	// PolicyReject fails later requests with ErrSessionBusy.
	PolicyReject Policy = "reject"
)

// ParsePolicy maps a configuration value to a Policy.
func ParsePolicy(v string) (Policy, error) {
	switch Policy(v) {
	case PolicySerialize, PolicyReject:
		return Policy(v), nil
	default:
		return "", fmt.Errorf("unknown session policy %q", v)
	}
}

// InMemoryService is the process-wide session store.
type InMemoryService struct {
	policy Policy
	now    func() time.Time

	mu       sync.Mutex
	sessions map[Key]*Session
	locks    map[Key]*keyLock
}

// keyLock is a one-slot semaphore shared by every request on a key. refs
// counts holders and waiters; the entry is dropped when it reaches zero.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewInMemoryService creates an empty store using the given concurrency policy.
func NewInMemoryService(policy Policy) *InMemoryService {
	if policy == "" {
		policy = PolicySerialize
	}
	return &InMemoryService{
		policy:   policy,
		now:      time.Now,
		sessions: make(map[Key]*Session),
		locks:    make(map[Key]*keyLock),
	}
}

// Get returns the session for key or ErrNotFound.
func (s *InMemoryService) Get(_ context.Context, key Key) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return sess, nil
}

// Create allocates an empty session for key. It fails with ErrAlreadyExists
// rather than overwriting existing state.
func (s *InMemoryService) Create(_ context.Context, key Key) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, ErrAlreadyExists)
	}
	sess := newSession(key, s.now())
	s.sessions[key] = sess
	return sess, nil
}

// GetOrCreate returns the existing session for key, creating it on first use.
// The boolean reports whether a new session was allocated.
func (s *InMemoryService) GetOrCreate(ctx context.Context, key Key) (*Session, bool, error) {
	sess, err := s.Get(ctx, key)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	sess, err = s.Create(ctx, key)
	if errors.Is(err, ErrAlreadyExists) {
		// Lost a creation race; the winner's session is authoritative.
		sess, err = s.Get(ctx, key)
		return sess, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// Len returns the number of live sessions.
func (s *InMemoryService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Acquire claims exclusive use of the session for one request according to
// the store's policy. The returned release func must be called exactly once.
func (s *InMemoryService) Acquire(ctx context.Context, key Key) (func(), error) {
	lock := s.refLock(key)
	release := func() {
		<-lock.ch
		s.unrefLock(key, lock)
	}

	if s.policy == PolicyReject {
		select {
		case lock.ch <- struct{}{}:
			return release, nil
		default:
			s.unrefLock(key, lock)
			return nil, fmt.Errorf("%s: %w", key, ErrSessionBusy)
		}
	}

	select {
	case lock.ch <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		s.unrefLock(key, lock)
		return nil, ctx.Err()
	}
}

func (s *InMemoryService) refLock(key Key) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = lock
	}
	lock.refs++
	return lock
}

func (s *InMemoryService) unrefLock(key Key, lock *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, key)
	}
}

// lockCount returns the number of keys with a holder or waiter.
func (s *InMemoryService) lockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}

// DeleteIdle removes sessions that have not received an event for ttl and
// that no request holds or waits on, returning their keys.
func (s *InMemoryService) DeleteIdle(ttl time.Duration) []Key {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Key
	for key, sess := range s.sessions {
		if sess.UpdatedAt().After(cutoff) {
			continue
		}
		if _, inUse := s.locks[key]; inUse {
			continue
		}
		delete(s.sessions, key)
		removed = append(removed, key)
	}
	return removed
}

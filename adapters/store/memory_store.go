package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/eauth/core"
	"github.com/layer-3/eauth/ports"
)

// MemoryStore is an in-memory implementation of the user, session and challenge stores.
// It is used by tests and by single-process deployments that accept losing state on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]core.User
	nextUserID int64
	sessions   map[string]core.Session
	challenges map[string]challengeEntry
	now        func() time.Time
}

type challengeEntry struct {
	challenge core.Challenge
	expiresAt time.Time
}

var (
	_ ports.UserStore      = (*MemoryStore)(nil)
	_ ports.SessionStore   = (*MemoryStore)(nil)
	_ ports.ChallengeStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]core.User),
		sessions:   make(map[string]core.Session),
		challenges: make(map[string]challengeEntry),
		now:        time.Now,
	}
}

// SetClock replaces time.Now, for tests that exercise expiry
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FindOrCreate returns the user for address, creating it when absent
func (s *MemoryStore) FindOrCreate(ctx context.Context, address string) (core.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[address]; ok {
		return user, false, nil
	}

	s.nextUserID++
	now := s.now().UTC()
	user := core.User{
		ID:        s.nextUserID,
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[address] = user
	return user, true, nil
}

// FindByAddress returns the user for address
func (s *MemoryStore) FindByAddress(ctx context.Context, address string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[address]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return user, nil
}

// Get returns a copy of the live session with id
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, id)
		return nil, core.ErrSessionNotFound
	}

	sess.Values = copyValues(sess.Values)
	return &sess, nil
}

// Save stores a copy of session
func (s *MemoryStore) Save(ctx context.Context, session *core.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *session
	stored.Values = copyValues(session.Values)
	s.sessions[session.ID] = stored
	return nil
}

// Destroy removes the session
func (s *MemoryStore) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Reset removes every session
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]core.Session)
	return nil
}

// Put stores a challenge until it is taken or ttl elapses
func (s *MemoryStore) Put(ctx context.Context, challenge *core.Challenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for nonce, entry := range s.challenges {
		if !now.Before(entry.expiresAt) {
			delete(s.challenges, nonce)
		}
	}

	s.challenges[challenge.Nonce] = challengeEntry{
		challenge: *challenge,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Take returns and removes the challenge for nonce
func (s *MemoryStore) Take(ctx context.Context, nonce string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.challenges[nonce]
	if !ok {
		return nil, core.ErrChallengeNotFound
	}
	delete(s.challenges, nonce)

	if !s.now().Before(entry.expiresAt) {
		return nil, core.ErrChallengeNotFound
	}
	challenge := entry.challenge
	return &challenge, nil
}

func copyValues(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

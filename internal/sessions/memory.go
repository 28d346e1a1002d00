package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atendezap/zapbridge/internal/core"
)

// DefaultTTLs maps conversation states to their lifetime.
var DefaultTTLs = map[string]time.Duration{
	core.StateIdle:           60 * time.Minute,
	core.StateAwaitingMenu:   5 * time.Minute,
	core.StateAwaitingName:   20 * time.Minute,
	core.StateBookingPending: 24 * time.Hour,
	core.StateEscalated:      12 * time.Hour,
	core.StateClosed:         5 * time.Minute,
}

// TTLFor resolves the TTL of a state, falling back to the idle lifetime.
func TTLFor(ttls map[string]time.Duration, state string) time.Duration {
	if ttl, ok := ttls[state]; ok {
		return ttl
	}
	return ttls[core.StateIdle]
}

type key struct {
	tenant string
	phone  string
}

// MemoryStore is the in-process SessionStore used when no Redis backend is
// configured. Expired sessions are dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[key]*core.Session
	ttls     map[string]time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a memory store; ttls overrides entries of
// DefaultTTLs when non-nil.
func NewMemoryStore(ttls map[string]time.Duration) *MemoryStore {
	merged := make(map[string]time.Duration, len(DefaultTTLs))
	for state, ttl := range DefaultTTLs {
		merged[state] = ttl
	}
	for state, ttl := range ttls {
		merged[state] = ttl
	}
	return &MemoryStore{
		sessions: make(map[key]*core.Session),
		ttls:     merged,
		now:      time.Now,
	}
}

func (s *MemoryStore) get(tenant, phone string) *core.Session {
	k := key{tenant, phone}
	sess, ok := s.sessions[k]
	if !ok {
		return nil
	}
	if !sess.ExpiresAt.After(s.now()) {
		delete(s.sessions, k)
		return nil
	}
	return sess
}

// Get returns the live session or nil.
func (s *MemoryStore) Get(_ context.Context, tenant, phone string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.get(tenant, phone)
	if sess == nil {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// Touch returns the existing session, refreshing its activity, or creates an
// idle one.
func (s *MemoryStore) Touch(_ context.Context, tenant, phone string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if sess := s.get(tenant, phone); sess != nil {
		sess.LastActivity = now
		cp := *sess
		return &cp, nil
	}

	sess := &core.Session{
		SessionID:    uuid.New().String(),
		Tenant:       tenant,
		Phone:        phone,
		State:        core.StateIdle,
		Context:      map[string]string{},
		LastActivity: now,
		ExpiresAt:    now.Add(TTLFor(s.ttls, core.StateIdle)),
	}
	s.sessions[key{tenant, phone}] = sess
	cp := *sess
	return &cp, nil
}

// SetState moves the session to state and renews its TTL. Missing sessions
// are ignored.
func (s *MemoryStore) SetState(_ context.Context, tenant, phone, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.get(tenant, phone)
	if sess == nil {
		return nil
	}
	now := s.now()
	sess.State = state
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(TTLFor(s.ttls, state))
	return nil
}

// SetContext merges updates into the session context.
func (s *MemoryStore) SetContext(_ context.Context, tenant, phone string, updates map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.get(tenant, phone)
	if sess == nil {
		return nil
	}
	if sess.Context == nil {
		sess.Context = map[string]string{}
	}
	for k, v := range updates {
		sess.Context[k] = v
	}
	sess.LastActivity = s.now()
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(_ context.Context, tenant, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key{tenant, phone})
	return nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atendezap/zapbridge/internal/core"
	"github.com/atendezap/zapbridge/internal/sessions"
)

// sessionKeyPrefix namespaces conversation sessions in Redis.
const sessionKeyPrefix = "session:"

// SessionStore implements core.SessionStore on Redis. Values are JSON
// encoded sessions; the key TTL mirrors the state TTL so expiry needs no
// sweeper.
type SessionStore struct {
	client *redis.Client
	ttls   map[string]time.Duration
}

// NewSessionStore creates a Redis-backed session store; ttls overrides
// entries of sessions.DefaultTTLs when non-nil.
func NewSessionStore(client *redis.Client, ttls map[string]time.Duration) *SessionStore {
	merged := make(map[string]time.Duration, len(sessions.DefaultTTLs))
	for state, ttl := range sessions.DefaultTTLs {
		merged[state] = ttl
	}
	for state, ttl := range ttls {
		merged[state] = ttl
	}
	return &SessionStore{client: client, ttls: merged}
}

func sessionKey(tenant, phone string) string {
	return sessionKeyPrefix + tenant + ":" + phone
}

// Get retrieves the session, or nil when absent/expired.
func (s *SessionStore) Get(ctx context.Context, tenant, phone string) (*core.Session, error) {
	val, err := s.client.Get(ctx, sessionKey(tenant, phone)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess core.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// Touch returns the existing session, refreshing its activity, or creates an
// idle one.
func (s *SessionStore) Touch(ctx context.Context, tenant, phone string) (*core.Session, error) {
	sess, err := s.Get(ctx, tenant, phone)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if sess != nil {
		sess.LastActivity = now
		if err := s.put(ctx, sess); err != nil {
			return nil, err
		}
		return sess, nil
	}

	sess = &core.Session{
		SessionID:    uuid.New().String(),
		Tenant:       tenant,
		Phone:        phone,
		State:        core.StateIdle,
		Context:      map[string]string{},
		LastActivity: now,
		ExpiresAt:    now.Add(sessions.TTLFor(s.ttls, core.StateIdle)),
	}
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetState moves the session to state and renews its TTL.
func (s *SessionStore) SetState(ctx context.Context, tenant, phone, state string) error {
	sess, err := s.Get(ctx, tenant, phone)
	if err != nil || sess == nil {
		return err
	}
	now := time.Now()
	sess.State = state
	sess.LastActivity = now
	sess.ExpiresAt = now.Add(sessions.TTLFor(s.ttls, state))
	return s.put(ctx, sess)
}

// SetContext merges updates into the session context.
func (s *SessionStore) SetContext(ctx context.Context, tenant, phone string, updates map[string]string) error {
	sess, err := s.Get(ctx, tenant, phone)
	if err != nil || sess == nil {
		return err
	}
	if sess.Context == nil {
		sess.Context = map[string]string{}
	}
	for k, v := range updates {
		sess.Context[k] = v
	}
	sess.LastActivity = time.Now()
	return s.put(ctx, sess)
}

// Delete removes the session.
func (s *SessionStore) Delete(ctx context.Context, tenant, phone string) error {
	if err := s.client.Del(ctx, sessionKey(tenant, phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) put(ctx context.Context, sess *core.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = sessions.TTLFor(s.ttls, sess.State)
	}

	if err := s.client.Set(ctx, sessionKey(sess.Tenant, sess.Phone), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

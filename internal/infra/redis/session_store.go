package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"trivia-round-service/internal/app"
)

// SessionStore is a Redis-aware implementation of SessionRepository.
// Sessions live in a local map since their event loop is in-process; Redis
// holds a liveness marker per player so other instances can see who is
// connected where.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	instance string

	mu       sync.RWMutex
	sessions map[string]*app.PlayerSession
}

func NewSessionStore(client *redis.Client, ttl time.Duration, instance string) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		instance: instance,
		sessions: make(map[string]*app.PlayerSession),
	}
}

func (s *SessionStore) GetOrCreate(key string, create func() *app.PlayerSession) *app.PlayerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[key]; ok && !session.Stopped() {
		return session
	}
	session := create()
	s.sessions[key] = session
	// best-effort liveness marker
	if err := s.client.Set(context.Background(), s.key(key), s.instance, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("session", key).Msg("set session marker failed")
	}
	return session
}

func (s *SessionStore) Get(key string) (*app.PlayerSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

func (s *SessionStore) DeleteIfStopped(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[key]
	if !ok || !session.Stopped() {
		return
	}
	delete(s.sessions, key)
	_ = s.client.Del(context.Background(), s.key(key)).Err()
}

// Owner returns the instance holding the session, if any.
func (s *SessionStore) Owner(ctx context.Context, key string) (string, error) {
	owner, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return owner, err
}

func (s *SessionStore) key(key string) string {
	return "trivia:session:" + key
}

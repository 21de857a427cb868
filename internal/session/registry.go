package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Registry tracks live sessions by ID. Sessions expire after the TTL of
// inactivity; every successful lookup refreshes the clock.
type Registry struct {
	sessions  *cache.Cache
	ttl       time.Duration
	generator Generator
	normalize Normalizer
	logger    zerolog.Logger
}

func NewRegistry(generator Generator, normalize Normalizer, ttl time.Duration, logger zerolog.Logger) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{
		sessions:  cache.New(ttl, 10*time.Minute),
		ttl:       ttl,
		generator: generator,
		normalize: normalize,
		logger:    logger,
	}
}

// Create starts a fresh Idle session and returns it.
func (r *Registry) Create() *Session {
	id := uuid.NewString()
	s := New(id, r.generator, r.normalize, r.logger)
	r.sessions.Set(id, s, r.ttl)
	return s
}

// Get returns the session with the given ID, refreshing its expiry.
func (r *Registry) Get(id string) (*Session, error) {
	v, ok := r.sessions.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s := v.(*Session)
	r.sessions.Set(id, s, r.ttl)
	return s, nil
}

// MarkCredentialsReady flips the credential-ready flag on every live session.
// Called after a new API key has been validated and committed.
func (r *Registry) MarkCredentialsReady() {
	for _, item := range r.sessions.Items() {
		if s, ok := item.Object.(*Session); ok {
			s.MarkCredentialsReady()
		}
	}
}

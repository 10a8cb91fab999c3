// Package claim holds short-lived per-record submission claims.
//
// A claim marks "a submission for this record is on the wire". It is taken
// before the authority call and released after the outcome is committed, so a
// second submit for the same record fails fast instead of reaching the
// authority twice. Claims expire by TTL if the holder dies.
package claim

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"certflow/pkg/platform/sentinel"
)

// Token identifies one claim holder; only the holder can release it.
type Token string

type memoryClaim struct {
	token     Token
	expiresAt time.Time
}

// InMemoryStore is the single-process claim table.
type InMemoryStore struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		claims: make(map[string]memoryClaim),
		now:    time.Now,
	}
}

// Acquire takes the claim for key or returns sentinel.ErrAlreadyClaimed.
func (s *InMemoryStore) Acquire(_ context.Context, key string, ttl time.Duration) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if c, ok := s.claims[key]; ok && now.Before(c.expiresAt) {
		return "", sentinel.ErrAlreadyClaimed
	}
	token := Token(uuid.NewString())
	s.claims[key] = memoryClaim{token: token, expiresAt: now.Add(ttl)}
	return token, nil
}

// Release drops the claim if token still holds it.
func (s *InMemoryStore) Release(_ context.Context, key string, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[key]; ok && c.token == token {
		delete(s.claims, key)
	}
	return nil
}

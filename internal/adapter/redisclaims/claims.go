// Package redisclaims shares completion claims between API replicas.
package redisclaims

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cladams7905/zencourt-sub009/internal/webhook"
)

// Store implements webhook.ClaimStore with SET NX.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. Keys are stored under prefix.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redisclaims: claim %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redisclaims: release %s: %w", key, err)
	}
	return nil
}

var _ webhook.ClaimStore = (*Store)(nil)

package webhook

import (
	"context"
	"sync"
	"time"
)

// ClaimStore hands out a key to exactly one caller until it expires or is
// released. Replicas share a Redis-backed store; a single process can use
// MemoryClaims.
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// sweepEvery is how many claims pass between scans for expired keys.
const sweepEvery = 128

// MemoryClaims is an in-process ClaimStore. Expired keys are dropped by a
// periodic sweep inside Claim.
type MemoryClaims struct {
	mu     sync.Mutex
	keys   map[string]time.Time
	now    func() time.Time
	claims int
}

// NewMemoryClaims creates an empty store.
func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{keys: make(map[string]time.Time), now: time.Now}
}

// Claim returns true if key was free. A ttl <= 0 never expires.
func (m *MemoryClaims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.claims++
	if m.claims%sweepEvery == 0 {
		m.sweep(now)
	}
	if exp, ok := m.keys[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.keys[key] = exp
	return true, nil
}

// sweep deletes expired keys. Callers hold mu.
func (m *MemoryClaims) sweep(now time.Time) {
	for key, exp := range m.keys {
		if !exp.IsZero() && !now.Before(exp) {
			delete(m.keys, key)
		}
	}
}

func (m *MemoryClaims) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}

var _ ClaimStore = (*MemoryClaims)(nil)

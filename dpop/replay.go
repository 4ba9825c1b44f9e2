package dpop

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ProofReplayPurpose is the fixed purpose string under which DPoP proof jti
// values are recorded in the replay cache.
const ProofReplayPurpose = "DPoPJwtId"

// ErrDuplicateKey is returned by Add when the (purpose, key) pair is already
// present and unexpired. Add has insert-if-absent semantics so that two
// concurrent requests presenting the same proof cannot both pass validation.
var ErrDuplicateKey = errors.New("replay cache key already present")

// ReplayCache answers "has this key been seen before, within a TTL".
type ReplayCache interface {
	Exists(ctx context.Context, purpose, key string) (bool, error)
	Add(ctx context.Context, purpose, key string, expiresAt time.Time) error
}

// InMemoryReplayCache is a thread-safe in-memory ReplayCache.
type InMemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	nowFunc func() time.Time
}

func NewInMemoryReplayCache() *InMemoryReplayCache {
	return &InMemoryReplayCache{
		entries: make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (c *InMemoryReplayCache) Exists(_ context.Context, purpose, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[cacheKey(purpose, key)]
	if !ok {
		return false, nil
	}
	if c.nowFunc().After(expiry) {
		delete(c.entries, cacheKey(purpose, key))
		return false, nil
	}
	return true, nil
}

// Add inserts the key if absent; a live duplicate yields ErrDuplicateKey.
func (c *InMemoryReplayCache) Add(_ context.Context, purpose, key string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	composite := cacheKey(purpose, key)
	if expiry, ok := c.entries[composite]; ok && !c.nowFunc().After(expiry) {
		return ErrDuplicateKey
	}
	c.entries[composite] = expiresAt
	return nil
}

// Cleanup removes expired entries.
func (c *InMemoryReplayCache) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	for key, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, key)
		}
	}
}

func cacheKey(purpose, key string) string {
	return purpose + ":" + key
}

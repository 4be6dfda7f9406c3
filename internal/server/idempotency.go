package server

import (
	"context"
	"sync"
	"time"

	"github.com/taskwire/taskwire/internal/protocol"
)

// defaultIdempotencyTTL is how long a cached create response stays
// replayable. Client retry storms happen within seconds; an hour is
// comfortably past any sane retry policy.
const defaultIdempotencyTTL = time.Hour

const idemShardCount = 16

type idemEntry struct {
	resp      protocol.Response
	expiresAt time.Time
}

type idemShard struct {
	mu      sync.Mutex
	entries map[string]idemEntry
}

// IdempotencyCache maps (operation, actor, client key) to the response
// the first attempt produced. A retried create replays the cached
// response instead of running again.
type IdempotencyCache struct {
	shards [idemShardCount]*idemShard
	ttl    time.Duration
}

func NewIdempotencyCache(ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	c := &IdempotencyCache{ttl: ttl}
	for i := range c.shards {
		c.shards[i] = &idemShard{entries: make(map[string]idemEntry)}
	}
	return c
}

func idemKey(op, actor, key string) string {
	return op + "\x00" + actor + "\x00" + key
}

func (c *IdempotencyCache) shard(key string) *idemShard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return c.shards[h%idemShardCount]
}

// Get returns the cached response for a key, if present and unexpired
func (c *IdempotencyCache) Get(op, actor, key string) (protocol.Response, bool) {
	k := idemKey(op, actor, key)
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[k]
	if !ok || time.Now().After(e.expiresAt) {
		return protocol.Response{}, false
	}
	return e.resp, true
}

// Put caches a response under the key for the cache's TTL
func (c *IdempotencyCache) Put(op, actor, key string, resp protocol.Response) {
	k := idemKey(op, actor, key)
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = idemEntry{resp: resp, expiresAt: time.Now().Add(c.ttl)}
}

// Sweep drops expired entries on an interval until ctx is canceled
func (c *IdempotencyCache) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range c.shards {
				s.mu.Lock()
				for k, e := range s.entries {
					if now.After(e.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}

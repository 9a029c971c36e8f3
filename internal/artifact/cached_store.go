package artifact

import (
	"context"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MetricsSnapshot reports cache effectiveness counters.
type MetricsSnapshot struct {
	Hits         uint64
	Misses       uint64
	OriginReads  uint64
	OriginWrites uint64
}

type metrics struct {
	hits         atomic.Uint64
	misses       atomic.Uint64
	originReads  atomic.Uint64
	originWrites atomic.Uint64
}

// CachedStore wraps another Store with an in-memory LRU so a flow that
// reads the same artifacts repeatedly (mask then inpaint, /again) does
// not round-trip to the origin each time.
type CachedStore struct {
	origin  Store
	blobs   *lru.Cache[string, []byte]
	metrics metrics
}

const defaultCacheEntries = 256

func NewCachedStore(origin Store, maxEntries int) (*CachedStore, error) {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	blobs, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, blobs: blobs}, nil
}

func (c *CachedStore) Put(ctx context.Context, sessionID, slot string, content []byte) error {
	if err := c.origin.Put(ctx, sessionID, slot, content); err != nil {
		return err
	}
	c.metrics.originWrites.Add(1)
	c.blobs.Add(cacheKey(sessionID, slot), append([]byte(nil), content...))
	return nil
}

func (c *CachedStore) Get(ctx context.Context, sessionID, slot string) ([]byte, error) {
	key := cacheKey(sessionID, slot)
	if data, ok := c.blobs.Get(key); ok {
		c.metrics.hits.Add(1)
		return append([]byte(nil), data...), nil
	}
	c.metrics.misses.Add(1)

	data, err := c.origin.Get(ctx, sessionID, slot)
	if err != nil {
		return nil, err
	}
	c.metrics.originReads.Add(1)
	c.blobs.Add(key, append([]byte(nil), data...))
	return data, nil
}

func (c *CachedStore) Clear(ctx context.Context, sessionID string) error {
	if err := c.origin.Clear(ctx, sessionID); err != nil {
		return err
	}
	prefix := sessionID + "/"
	for _, key := range c.blobs.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.blobs.Remove(key)
		}
	}
	return nil
}

func (c *CachedStore) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:         c.metrics.hits.Load(),
		Misses:       c.metrics.misses.Load(),
		OriginReads:  c.metrics.originReads.Load(),
		OriginWrites: c.metrics.originWrites.Load(),
	}
}

func cacheKey(sessionID, slot string) string {
	return sessionID + "/" + slot
}

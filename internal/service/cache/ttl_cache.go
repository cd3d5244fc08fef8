package cache

import (
	"sync"
	"time"
)

// defaultMaxEntries bounds the response cache. Keys carry symbol and query
// parameters, so the key space grows with watchlist churn.
const defaultMaxEntries = 512

type entry struct {
	body []byte
	exp  time.Time
}

// TTLCache is an in-process BytesCache for rendered API responses.
type TTLCache struct {
	mu         sync.Mutex
	m          map[string]entry
	maxEntries int
}

func NewTTLCache() *TTLCache {
	return &TTLCache{m: make(map[string]entry), maxEntries: defaultMaxEntries}
}

func (c *TTLCache) GetBytes(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(c.m, key)
		return nil, false, nil
	}
	return e.body, true, nil
}

func (c *TTLCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.m) >= c.maxEntries {
		c.prune()
	}
	c.m[key] = entry{body: value, exp: exp}
	return nil
}

// prune drops expired entries, clearing everything when the cache is full of
// live ones. Entries are cheap to rebuild from the handlers.
func (c *TTLCache) prune() {
	now := time.Now()
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
		}
	}
	if len(c.m) >= c.maxEntries {
		c.m = make(map[string]entry, c.maxEntries)
	}
}

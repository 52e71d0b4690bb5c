package pool

import (
	"container/list"
	"sync"
	"time"
)

// SecretCache is the explicit, bounded-lifetime home for pair shared secrets.
// Secrets live only here, in process memory: never persisted, never logged.
// Eviction (capacity, TTL, or Delete) zeroizes the stored copy. A rotation
// that finds no cached secret must fail advisorily and tell the caller to
// re-pair; there is no durable copy to recover from.
type SecretCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = oldest
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	secret    []byte
	expiresAt time.Time
}

// NewSecretCache creates a cache holding at most capacity secrets, each for
// at most ttl. A non-positive ttl means entries only ever fall to capacity
// eviction.
func NewSecretCache(capacity int, ttl time.Duration) *SecretCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &SecretCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Put stores a copy of secret under key, replacing any previous entry.
func (c *SecretCache) Put(key string, secret []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}

	cp := make([]byte, len(secret))
	copy(cp, secret)

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	el := c.order.PushBack(&cacheEntry{key: key, secret: cp, expiresAt: expires})
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		c.removeLocked(c.order.Front())
	}
}

// Get returns a copy of the secret for key, or false if absent or expired.
// The caller owns the copy and should zeroize it after use.
func (c *SecretCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}

	cp := make([]byte, len(e.secret))
	copy(cp, e.secret)
	return cp, true
}

// Delete removes and zeroizes the secret for key, if present.
func (c *SecretCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of cached secrets.
func (c *SecretCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *SecretCache) removeLocked(el *list.Element) {
	e := el.Value.(*cacheEntry)
	Zeroize(e.secret)
	delete(c.entries, e.key)
	c.order.Remove(el)
}

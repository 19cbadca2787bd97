package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	v   V
	at  time.Time
	exp time.Time
}

// TTLCache is a small typed map whose entries lapse after a fixed TTL.
type TTLCache[V any] struct {
	mu  sync.RWMutex
	m   map[string]entry[V]
	ttl time.Duration
	now func() time.Time
}

func NewTTLCache[V any](ttl time.Duration, now func() time.Time) *TTLCache[V] {
	if now == nil {
		now = time.Now
	}
	return &TTLCache[V]{m: make(map[string]entry[V]), ttl: ttl, now: now}
}

// Get returns the value and its age. Expired entries are dropped.
func (c *TTLCache[V]) Get(key string) (V, time.Duration, bool) {
	var zero V
	now := c.now()

	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return zero, 0, false
	}
	if !e.exp.IsZero() && now.After(e.exp) {
		c.mu.Lock()
		if cur, ok := c.m[key]; ok && cur.exp.Equal(e.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		return zero, 0, false
	}
	return e.v, now.Sub(e.at), true
}

func (c *TTLCache[V]) Set(key string, v V) {
	now := c.now()
	var exp time.Time
	if c.ttl > 0 {
		exp = now.Add(c.ttl)
	}
	c.mu.Lock()
	c.m[key] = entry[V]{v: v, at: now, exp: exp}
	c.mu.Unlock()
}

// Len counts entries including ones not yet swept.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

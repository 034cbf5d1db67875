// Package cache holds gateway responses in memory for a fixed lifetime.
package cache

import (
	"net/http"
	"sync"
	"time"
)

// Entry is a cached gateway response.
type Entry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	InsertedAt time.Time
}

// TTLCache is a map of absolute URL to Entry. Expired entries are dropped on
// read and by a periodic sweep.
type TTLCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates an empty cache whose entries live for ttl.
func New(ttl time.Duration) *TTLCache {
	return &TTLCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the entry for key if present and not expired.
func (c *TTLCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.expired(e) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed it.
		if cur, still := c.entries[key]; still && c.expired(cur) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Entry{}, false
	}
	return e, true
}

// Set stores e under key, stamping InsertedAt. Header and Body are not copied.
func (c *TTLCache) Set(key string, e Entry) {
	e.InsertedAt = c.now()
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *TTLCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *TTLCache) expired(e Entry) bool {
	return c.now().Sub(e.InsertedAt) >= c.ttl
}

// StartJanitor sweeps the cache every interval until StopJanitor is called.
// onSweep, if non-nil, receives the number of entries removed by each sweep.
func (c *TTLCache) StartJanitor(interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n := c.Sweep()
				if onSweep != nil {
					onSweep(n)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// StopJanitor stops a janitor started by StartJanitor and waits for it to exit.
func (c *TTLCache) StopJanitor() {
	if c.stop == nil {
		return
	}
	c.once.Do(func() {
		close(c.stop)
		<-c.done
	})
}

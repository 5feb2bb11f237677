package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	expiry time.Time
	value  []byte
}

// Memory is a process-local TTL cache.
type Memory struct {
	entries map[string]memoryEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
	once    sync.Once
}

// NewMemory creates a cache whose entries default to ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	c := &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get returns the value if present and not expired.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.expiry) {
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores a copy of value. A zero ttl uses the cache default.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{
		value:  stored,
		expiry: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *Memory) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}

func (c *Memory) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *Memory) evictExpired(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
		}
	}
}

package keycache

import (
	"context"
	"sync"
	"time"
)

type memoryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory builds an in-process key cache with the given TTL.
func NewMemory(ttl time.Duration) Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &memoryCache{ttl: ttl, entries: make(map[string]Entry)}
}

func (c *memoryCache) Lookup(_ context.Context, kid string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[kid]
	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.entries, kid)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (c *memoryCache) Store(_ context.Context, kid string, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(c.ttl)
	}
	c.entries[kid] = cloneEntry(entry)
	return nil
}

func (c *memoryCache) Close(_ context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	out := Entry{StoredAt: in.StoredAt, ExpiresAt: in.ExpiresAt}
	if len(in.Key) > 0 {
		out.Key = append([]byte(nil), in.Key...)
	}
	return out
}

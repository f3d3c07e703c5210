package mengla

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryCache is a process-local Cache. Deliveries only reach pollers in the
// same process; multi-process deployments need RedisCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]json.RawMessage)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return cloneRaw(v), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, value json.RawMessage) error {
	c.mu.Lock()
	c.entries[key] = cloneRaw(value)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]json.RawMessage)
	c.mu.Unlock()
	return nil
}

// Len reports the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}

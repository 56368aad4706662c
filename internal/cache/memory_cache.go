package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemorySnapshotCache is a process-local SnapshotCache for tests.
type MemorySnapshotCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{entries: make(map[string][]byte)}
}

func (c *MemorySnapshotCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(val), true, nil
}

func (c *MemorySnapshotCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if len(value) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = slices.Clone(value)
	return nil
}

// Package cache provides response-cache implementations of
// ports.CacheService: an in-process map and a Redis-backed variant.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/calder-ai/relay/internal/core/ports"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

type item struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local CacheService. Expired entries are dropped
// lazily on read.
type Memory struct {
	items map[string]item
	mu    sync.RWMutex
}

func NewMemory() ports.CacheService {
	return &Memory{items: make(map[string]item)}
}

func (c *Memory) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.RLock()
	it, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		return ErrMiss
	}
	if time.Now().After(it.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return ErrMiss
	}
	return unmarshal(it.value, dest)
}

func (c *Memory) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item{value: data, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *Memory) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

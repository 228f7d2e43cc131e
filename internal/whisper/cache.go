package whisper

import (
	"context"
	"fmt"
	"sync"

	"github.com/murmurlabs/whisperd/internal/device"
)

// Handle is a loaded model tied to the size and device it was loaded
// for. It lives for the rest of the process once the load succeeds.
type Handle struct {
	Size   string
	Device device.Config
	Engine Engine
}

// LoadFunc performs the actual (potentially slow) model load.
type LoadFunc func(ctx context.Context, size string, dev device.Config) (Engine, error)

type cacheKey struct {
	size      string
	backend   device.Backend
	precision device.Precision
}

type cacheEntry struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// Cache memoizes loaded models per (size, device, precision). At most
// one load is in flight per key; concurrent callers wait for it and
// share its result. A failed load is evicted so the next call retries.
type Cache struct {
	load    LoadFunc
	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

func NewCache(load LoadFunc) *Cache {
	return &Cache{
		load:    load,
		entries: make(map[cacheKey]*cacheEntry),
	}
}

func (c *Cache) GetOrLoad(ctx context.Context, size string, dev device.Config) (*Handle, error) {
	k := cacheKey{size: size, backend: dev.Backend, precision: dev.Precision}

	c.mu.Lock()
	entry, ok := c.entries[k]
	if ok {
		c.mu.Unlock()
		select {
		case <-entry.done:
			if entry.err != nil {
				return nil, entry.err
			}
			return entry.handle, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	entry = &cacheEntry{done: make(chan struct{})}
	c.entries[k] = entry
	c.mu.Unlock()

	engine, err := c.load(ctx, size, dev)
	if err != nil {
		entry.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		close(entry.done)
		// Evict so a later request can retry the load.
		c.mu.Lock()
		if c.entries[k] == entry {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, entry.err
	}

	entry.handle = &Handle{Size: size, Device: dev, Engine: engine}
	close(entry.done)
	return entry.handle, nil
}

// Loaded reports whether a model is currently cached for the key.
// Never triggers a load.
func (c *Cache) Loaded(size string, dev device.Config) bool {
	k := cacheKey{size: size, backend: dev.Backend, precision: dev.Precision}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[k]
	if !ok {
		return false
	}
	select {
	case <-entry.done:
		return entry.err == nil
	default:
		return false
	}
}

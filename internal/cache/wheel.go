package cache

import (
	"context"
	"sync"
	"time"

	"taoo-rewards/internal/models"
)

type WheelLoader func(context.Context) ([]models.WheelSegment, error)

// WheelCache holds the active segment table for ttl before reloading.
type WheelCache struct {
	mu       sync.RWMutex
	value    []models.WheelSegment
	expires  time.Time
	ttl      time.Duration
	loadFunc WheelLoader
	now      func() time.Time
}

func NewWheelCache(ttl time.Duration, loader WheelLoader) *WheelCache {
	return &WheelCache{
		ttl:      ttl,
		loadFunc: loader,
		now:      time.Now,
	}
}

// Get returns a copy so callers can't mutate the cached table.
func (c *WheelCache) Get(ctx context.Context) ([]models.WheelSegment, error) {
	c.mu.RLock()
	if c.now().Before(c.expires) && c.value != nil {
		defer c.mu.RUnlock()
		return clone(c.value), nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.expires) && c.value != nil {
		return clone(c.value), nil
	}
	segments, err := c.loadFunc(ctx)
	if err != nil {
		return nil, err
	}
	c.value = segments
	c.expires = c.now().Add(c.ttl)
	return clone(segments), nil
}

func (c *WheelCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.expires = time.Time{}
}

func clone(in []models.WheelSegment) []models.WheelSegment {
	return append([]models.WheelSegment(nil), in...)
}

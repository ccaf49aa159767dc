package cache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// Cache stores normalized forecasts keyed by request parameters.
// Get returns fresh entries only; GetStale also returns expired entries
// stored no more than maxStaleAge ago.
type Cache interface {
	Get(ctx context.Context, key string) (models.NormalizedForecast, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.NormalizedForecast, bool, error)
	Set(ctx context.Context, key string, value models.NormalizedForecast, ttl time.Duration) error
}

// Key derives the cache key for a request. Coordinates are rounded to 4
// decimals (~11 m); correlation id is deliberately excluded.
func Key(req models.ForecastRequest) string {
	units := req.Units
	if units == "" {
		units = "metric"
	}
	return fmt.Sprintf("%s,%s:%d:%s:%s",
		roundCoord(req.Latitude), roundCoord(req.Longitude), req.MaxDailies, units, req.Language)
}

func roundCoord(p *float64) string {
	if p == nil {
		return "nil"
	}
	return strconv.FormatFloat(math.Round(*p*1e4)/1e4, 'f', 4, 64)
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries
// are kept for stale reads until retain has passed since they were stored.
type InMemoryCache struct {
	mu     sync.Mutex
	data   map[string]cacheEntry
	retain time.Duration
	now    func() time.Time
}

type cacheEntry struct {
	value     models.NormalizedForecast
	storedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache. retain bounds how long an
// entry survives for stale reads; values below the TTL are raised to it on Set.
func NewInMemoryCache(retain time.Duration) *InMemoryCache {
	return &InMemoryCache{
		data:   make(map[string]cacheEntry),
		retain: retain,
		now:    time.Now,
	}
}

// Get returns (value, true, nil) on a fresh hit and (zero, false, nil) otherwise.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.NormalizedForecast, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok || c.now().After(entry.expiresAt) {
		return models.NormalizedForecast{}, false, nil
	}
	return entry.value, true, nil
}

// GetStale returns the entry regardless of TTL if it was stored within maxStaleAge.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.NormalizedForecast, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok || c.now().Sub(entry.storedAt) > maxStaleAge {
		return models.NormalizedForecast{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value with ttl and evicts entries past their retention.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.NormalizedForecast, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.data[key] = cacheEntry{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	for k, e := range c.data {
		keep := c.retain
		if keep < e.expiresAt.Sub(e.storedAt) {
			keep = e.expiresAt.Sub(e.storedAt)
		}
		if now.Sub(e.storedAt) > keep {
			delete(c.data, k)
		}
	}
	return nil
}

// Len returns the number of stored entries, fresh or stale.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

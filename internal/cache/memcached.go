package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/forecast-service/internal/models"
)

const keyPrefix = "forecast:"

// maxRelativeExp is memcached's ceiling for relative expirations (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Items live for
// max(ttl, retain) and carry their own freshness deadline so stale reads work.
type MemcachedCache struct {
	client *memcache.Client
	retain time.Duration
}

// envelope is the stored value.
type envelope struct {
	Forecast   models.NormalizedForecast `json:"forecast"`
	StoredAt   time.Time                 `json:"storedAt"`
	FreshUntil time.Time                 `json:"freshUntil"`
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retain time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no server addresses")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, retain: retain}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// key maps a cache key onto memcached's allowed charset (no spaces, <= 250 bytes).
func (c *MemcachedCache) key(k string) string {
	k = keyPrefix + strings.ReplaceAll(k, " ", "_")
	if len(k) > 250 {
		k = k[:250]
	}
	return k
}

func (c *MemcachedCache) load(ctx context.Context, key string) (envelope, bool, error) {
	if ctx.Err() != nil {
		return envelope{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return envelope{}, false, err
	}
	return env, true, nil
}

// Get implements Cache.Get. Returns false, nil on miss or expired entry.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.NormalizedForecast, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok || time.Now().After(env.FreshUntil) {
		return models.NormalizedForecast{}, false, err
	}
	return env.Forecast, true, nil
}

// GetStale implements Cache.GetStale.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.NormalizedForecast, bool, error) {
	env, ok, err := c.load(ctx, key)
	if err != nil || !ok || time.Since(env.StoredAt) > maxStaleAge {
		return models.NormalizedForecast{}, false, err
	}
	return env.Forecast, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.NormalizedForecast, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	now := time.Now()
	raw, err := json.Marshal(envelope{Forecast: value, StoredAt: now, FreshUntil: now.Add(ttl)})
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl, c.retain),
	})
}

// expirationSeconds returns the item lifetime: the longer of ttl and retain,
// falling back to one hour when out of memcached's relative range.
func expirationSeconds(ttl, retain time.Duration) int32 {
	life := ttl
	if retain > life {
		life = retain
	}
	sec := int64(life.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return int32(sec)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

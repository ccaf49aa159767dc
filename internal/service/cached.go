package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/cache"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

// CachedForecaster wraps a Forecaster with cache-aside lookups keyed by
// request parameters. Hits are re-stamped with the caller's correlation id.
type CachedForecaster struct {
	next     Forecaster
	cache    cache.Cache
	ttl      time.Duration
	staleTTL time.Duration // maximum age for stale fallback (0 = disabled)
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewCachedForecaster creates a CachedForecaster. staleTTL 0 disables stale fallback.
func NewCachedForecaster(next Forecaster, c cache.Cache, ttl, staleTTL time.Duration, logger *zap.Logger) *CachedForecaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedForecaster{
		next:     next,
		cache:    c,
		ttl:      ttl,
		staleTTL: staleTTL,
		logger:   logger,
	}
}

// Request is the asynchronous form of Forecast; see ForecastService.Request.
func (c *CachedForecaster) Request(ctx context.Context, req models.ForecastRequest, emitter Emitter) {
	dispatch(ctx, c, &c.wg, req, emitter)
}

// Wait blocks until every asynchronous Request has finished.
func (c *CachedForecaster) Wait() {
	c.wg.Wait()
}

// Forecast serves a fresh cached forecast when present, otherwise delegates
// and caches a successful result. When the delegate fails and a stale entry
// younger than staleTTL exists, that entry is served marked Stale.
func (c *CachedForecaster) Forecast(ctx context.Context, req models.ForecastRequest) (models.Result, bool) {
	if req.Latitude == nil || req.Longitude == nil {
		return c.next.Forecast(ctx, req)
	}
	key := cache.Key(req)
	logger := observability.LoggerFromContext(ctx, c.logger)

	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.String("category", categorizeCacheError(err)), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("fresh").Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return restamp(cached, req.CorrelationID, false), true
	}

	res, ok := c.next.Forecast(ctx, req)
	if !ok {
		return res, false
	}

	if res.Forecast != nil {
		if setErr := c.cache.Set(ctx, key, *res.Forecast, c.ttl); setErr != nil {
			observability.CacheErrorsTotal.WithLabelValues("set").Inc()
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
		return res, true
	}

	if c.staleTTL > 0 && res.Err.Kind != models.KindInvalidRequest {
		stale, ok, staleErr := c.cache.GetStale(ctx, key, c.staleTTL)
		if staleErr == nil && ok {
			observability.CacheHitsTotal.WithLabelValues("stale").Inc()
			logger.Info("serving stale cache",
				zap.String("key", key),
				zap.String("error_kind", string(res.Err.Kind)),
				zap.Duration("age", time.Since(stale.RetrievedAt)))
			return restamp(stale, req.CorrelationID, true), true
		}
	}
	return res, true
}

// restamp returns a copy of f under correlationID with fresh slice headers.
func restamp(f models.NormalizedForecast, correlationID string, stale bool) models.Result {
	f.CorrelationID = correlationID
	f.Stale = stale
	f.Daily = append([]models.DailySummary(nil), f.Daily...)
	f.Hourly = append([]models.HourlySample{}, f.Hourly...)
	return models.Result{Forecast: &f}
}

// categorizeCacheError returns a stable label for cache error logs (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

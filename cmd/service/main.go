package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-service/internal/cache"
	"github.com/kjstillabower/forecast-service/internal/client"
	"github.com/kjstillabower/forecast-service/internal/config"
	httphandler "github.com/kjstillabower/forecast-service/internal/http"
	"github.com/kjstillabower/forecast-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-service/internal/merge"
	"github.com/kjstillabower/forecast-service/internal/observability"
	"github.com/kjstillabower/forecast-service/internal/service"
)

const breakerComponent = "forecast_api"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	app, err := build(cfg, logger)
	if err != nil {
		logger.Fatal("wiring", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("fetch_mode", cfg.FetchMode))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.MarkReady(time.Now())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if app.memcached != nil {
		if err := app.memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// app is the wired process: router plus the pieces shutdown needs.
type app struct {
	router    http.Handler
	memcached *cache.MemcachedCache // nil unless backend is memcached
}

// build wires the fetch pipeline, cache, health and router from cfg.
func build(cfg *config.Config, logger *zap.Logger) (*app, error) {
	builder, err := client.NewRequestBuilder(cfg.ForecastAPIURL, client.Mode(cfg.FetchMode))
	if err != nil {
		return nil, fmt.Errorf("request builder: %w", err)
	}

	executor := client.NewExecutor(client.NewHTTPClient(cfg.MaxConnsPerHost), cfg.SectionTimeout)
	healthConfig := &httphandler.HealthConfig{
		ReadyDelay:           cfg.ReadyDelay,
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}
	if cb := newBreaker(cfg); cb != nil {
		executor.SetCircuitBreaker(cb)
		healthConfig.ProviderState = func() string { return cb.State().String() }
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitFailureThreshold),
			zap.Duration("open_timeout", cfg.CircuitOpenTimeout))
	}
	if cfg.ProviderRateLimitRPS > 0 {
		executor.SetRateLimiter(rate.NewLimiter(rate.Limit(cfg.ProviderRateLimitRPS), cfg.ProviderRateBurst))
		logger.Info("provider rate limit enabled", zap.Int("rps", cfg.ProviderRateLimitRPS), zap.Int("burst", cfg.ProviderRateBurst))
	}

	svc := service.NewForecastService(builder, executor, merge.New(), cfg.SectionTimeout, cfg.MaxConcurrentFetches, logger)
	if cfg.SupersedeSameLocation {
		svc.EnableSupersession()
	}

	a := &app{}
	var forecaster service.Forecaster = svc
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.memcached = mc
		healthConfig.CachePing = mc.Ping
		forecaster = service.NewCachedForecaster(svc, mc, cfg.CacheTTL, cfg.StaleCacheTTL, logger)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "in_memory":
		forecaster = service.NewCachedForecaster(svc, cache.NewInMemoryCache(cfg.StaleCacheTTL), cfg.CacheTTL, cfg.StaleCacheTTL, logger)
		logger.Info("cache backend: in_memory")
	default:
		logger.Info("cache disabled")
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterTrafficGauges(cfg.DegradedWindow)

	handler := httphandler.NewHandler(forecaster, healthConfig, logger)
	a.router = httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		RateLimiter:    limiter,
	})
	return a, nil
}

// newBreaker returns nil when CircuitFailureThreshold is 0.
func newBreaker(cfg *config.Config) *gobreaker.CircuitBreaker {
	if cfg.CircuitFailureThreshold <= 0 {
		return nil
	}
	threshold := uint32(cfg.CircuitFailureThreshold)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerComponent,
		MaxRequests: uint32(cfg.CircuitHalfOpenRequests),
		Timeout:     cfg.CircuitOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), breakerStateValue(to))
		},
	})
}

// breakerStateValue maps a breaker state onto the circuitBreakerState gauge.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

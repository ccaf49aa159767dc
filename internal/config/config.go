package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultForecastAPIURL is the public Open-Meteo forecast endpoint. It needs no key.
const DefaultForecastAPIURL = "https://api.open-meteo.com/v1/forecast"

// sectionsPerRequest is the fetch count of one request in sections mode; a
// half-open breaker must admit all of them.
const sectionsPerRequest = 3

// Config holds service configuration loaded from YAML, .env and environment.
type Config struct {
	ServerPort string

	ForecastAPIURL       string
	FetchMode            string // "combined" or "sections"
	SectionTimeout       time.Duration
	MaxConcurrentFetches int
	MaxConnsPerHost      int

	RequestTimeout        time.Duration
	SupersedeSameLocation bool

	CacheBackend  string // "in_memory", "memcached" or "none"
	CacheTTL      time.Duration
	StaleCacheTTL time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS         int
	RateLimitBurst       int
	ProviderRateLimitRPS int // 0 disables the outbound limiter
	ProviderRateBurst    int

	CircuitFailureThreshold int // consecutive failures that open the breaker; 0 disables
	CircuitOpenTimeout      time.Duration
	CircuitHalfOpenRequests int

	ShutdownTimeout time.Duration

	ReadyDelay           time.Duration
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ForecastAPI struct {
		URL                  string `yaml:"url"`
		Mode                 string `yaml:"mode"`
		SectionTimeout       string `yaml:"section_timeout"`
		MaxConcurrentFetches int    `yaml:"max_concurrent_fetches"`
		MaxConnsPerHost      int    `yaml:"max_conns_per_host"`
	} `yaml:"forecast_api"`

	Request struct {
		Timeout               string `yaml:"timeout"`
		SupersedeSameLocation bool   `yaml:"supersede_same_location"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		StaleTTL  string `yaml:"stale_ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		ProviderRateLimitRPS    int    `yaml:"provider_rate_limit_rps"`
		ProviderRateLimitBurst  int    `yaml:"provider_rate_limit_burst"`
		CircuitFailureThreshold int    `yaml:"circuit_failure_threshold"`
		CircuitOpenTimeout      string `yaml:"circuit_open_timeout"`
		CircuitHalfOpenRequests int    `yaml:"circuit_half_open_requests"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay           string `yaml:"ready_delay"`
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). A .env
// file in the working directory, if present, is loaded into the environment
// first without overriding variables already set. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.ForecastAPIURL = firstNonEmpty(os.Getenv("FORECAST_API_URL"), fc.ForecastAPI.URL, DefaultForecastAPIURL)
	cfg.FetchMode = strings.ToLower(firstNonEmpty(os.Getenv("FETCH_MODE"), fc.ForecastAPI.Mode, "combined"))
	cfg.SectionTimeout = parseDurationOrZero(fc.ForecastAPI.SectionTimeout, 10*time.Second)
	cfg.MaxConcurrentFetches = fc.ForecastAPI.MaxConcurrentFetches
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 3
	}
	cfg.MaxConnsPerHost = fc.ForecastAPI.MaxConnsPerHost
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 32
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.SupersedeSameLocation = fc.Request.SupersedeSameLocation

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, 0)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.ProviderRateLimitRPS = fc.Reliability.ProviderRateLimitRPS
	cfg.ProviderRateBurst = fc.Reliability.ProviderRateLimitBurst
	if cfg.ProviderRateBurst <= 0 {
		cfg.ProviderRateBurst = 3
	}
	cfg.CircuitFailureThreshold = fc.Reliability.CircuitFailureThreshold
	cfg.CircuitOpenTimeout = parseDuration(fc.Reliability.CircuitOpenTimeout, 30*time.Second)
	cfg.CircuitHalfOpenRequests = fc.Reliability.CircuitHalfOpenRequests
	if cfg.CircuitHalfOpenRequests <= 0 {
		cfg.CircuitHalfOpenRequests = 1
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.ReadyDelay = parseDuration(fc.Lifecycle.ReadyDelay, 3*time.Second)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Auto-adjusts RequestTimeout to exceed SectionTimeout.
func validate(cfg *Config) error {
	if cfg.SectionTimeout <= 0 {
		return fmt.Errorf("forecast_api.section_timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.SectionTimeout {
		cfg.RequestTimeout = cfg.SectionTimeout + time.Second
	}
	switch cfg.FetchMode {
	case "combined", "sections":
	default:
		return fmt.Errorf("forecast_api.mode must be combined or sections, got %q", cfg.FetchMode)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "none":
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or none, got %q", cfg.CacheBackend)
	}
	if cfg.FetchMode == "sections" && cfg.CircuitFailureThreshold > 0 && cfg.CircuitHalfOpenRequests < sectionsPerRequest {
		return fmt.Errorf("reliability.circuit_half_open_requests must be at least %d in sections mode, got %d", sectionsPerRequest, cfg.CircuitHalfOpenRequests)
	}
	if cfg.StaleCacheTTL < 0 {
		return fmt.Errorf("cache.stale_ttl must not be negative")
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	return nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
)

// DefaultTimeout bounds a single section fetch when the caller passes none.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 8 << 20

// SectionFetcher issues one section fetch and classifies the outcome.
type SectionFetcher interface {
	Execute(ctx context.Context, spec models.SectionSpec, timeout time.Duration) models.FetchOutcome
}

// Executor is the HTTP SectionFetcher. It never retries.
type Executor struct {
	client  *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewHTTPClient returns the shared client used for all provider calls.
// maxConnsPerHost <= 0 leaves the transport unbounded.
func NewHTTPClient(maxConnsPerHost int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if maxConnsPerHost > 0 {
		transport.MaxConnsPerHost = maxConnsPerHost
		transport.MaxIdleConnsPerHost = maxConnsPerHost
	}
	return &http.Client{Transport: transport}
}

// NewExecutor creates an Executor. A nil client uses NewHTTPClient(0);
// a non-positive timeout uses DefaultTimeout.
func NewExecutor(client *http.Client, timeout time.Duration) *Executor {
	if client == nil {
		client = NewHTTPClient(0)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{client: client, timeout: timeout}
}

// SetCircuitBreaker wraps every fetch in cb. Timeouts, network errors and 5xx count as failures.
func (e *Executor) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	e.breaker = cb
}

// SetRateLimiter makes every fetch wait for a token before dialing.
func (e *Executor) SetRateLimiter(l *rate.Limiter) {
	e.limiter = l
}

// Timeout returns the default per-section timeout.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute performs one GET for spec, cancelled after timeout (default if <= 0).
func (e *Executor) Execute(ctx context.Context, spec models.SectionSpec, timeout time.Duration) models.FetchOutcome {
	if timeout <= 0 {
		timeout = e.timeout
	}
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := e.guarded(reqCtx, spec)

	label := OutcomeLabel(outcome)
	observability.SectionFetchTotal.WithLabelValues(string(spec.Role), label).Inc()
	observability.SectionFetchDuration.WithLabelValues(string(spec.Role), label).Observe(time.Since(start).Seconds())
	return outcome
}

func (e *Executor) guarded(ctx context.Context, spec models.SectionSpec) models.FetchOutcome {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return models.Failure(classifyWaitError(ctx, err), 0, fmt.Sprintf("rate limit wait: %v", err))
		}
	}
	if e.breaker == nil {
		return e.fetch(ctx, spec)
	}

	var outcome models.FetchOutcome
	_, err := e.breaker.Execute(func() (interface{}, error) {
		outcome = e.fetch(ctx, spec)
		// A caller that went away says nothing about the provider.
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, nil
		}
		if tripsBreaker(outcome) {
			return nil, errors.New(outcome.Message)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.Failure(models.KindNetwork, 0, fmt.Sprintf("circuit breaker: %v", err))
	}
	return outcome
}

func (e *Executor) fetch(ctx context.Context, spec models.SectionSpec) models.FetchOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return models.Failure(models.KindNetwork, 0, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return models.Failure(ClassifyTransportError(ctx, err), 0, fmt.Sprintf("http request failed: %v", err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Failure(models.KindHTTPStatus, resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Failure(ClassifyTransportError(ctx, err), 0, fmt.Sprintf("read response body: %v", err))
	}
	if !json.Valid(body) {
		return models.Failure(models.KindParse, resp.StatusCode, "parse response: body is not valid JSON")
	}
	return models.Success(body, resp.StatusCode)
}

// tripsBreaker reports whether an outcome points at an unhealthy provider.
// 4xx and parse failures are request-specific and do not count.
func tripsBreaker(o models.FetchOutcome) bool {
	switch o.Kind {
	case models.KindTimeout, models.KindNetwork:
		return true
	case models.KindHTTPStatus:
		return o.HTTPStatus >= 500 || o.HTTPStatus == http.StatusTooManyRequests
	}
	return false
}

// ClassifyTransportError maps an error from Do or a body read to Timeout or NetworkError.
// Only an elapsed deadline is a Timeout; caller cancellation is a NetworkError.
func ClassifyTransportError(ctx context.Context, err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.KindTimeout
	}
	return models.KindNetwork
}

// classifyWaitError handles rate.Limiter.Wait, which reports a deadline that
// would be exceeded without wrapping context.DeadlineExceeded.
func classifyWaitError(ctx context.Context, err error) models.ErrorKind {
	if errors.Is(ctx.Err(), context.Canceled) {
		return models.KindNetwork
	}
	if _, ok := ctx.Deadline(); ok {
		return models.KindTimeout
	}
	return ClassifyTransportError(ctx, err)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
	"github.com/kjstillabower/forecast-service/internal/service"
	"github.com/kjstillabower/forecast-service/internal/traffic"
)

// DefaultDays is the number of daily summaries returned when a GET omits days.
const DefaultDays = 7

// maxBodyBytes caps a POST /forecast body.
const maxBodyBytes = 64 << 10

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	ReadyDelay           time.Duration
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// ProviderState, when set, reports the provider circuit breaker state ("closed", "half-open", "open").
	ProviderState func() string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	forecaster       service.Forecaster
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(forecaster service.Forecaster, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		forecaster:   forecaster,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetForecast handles GET /forecast?latitude=&longitude=&days=&lang=&units=.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.ForecastRequest{
		CorrelationID: correlationID(r),
		MaxDailies:    DefaultDays,
		Language:      strings.TrimSpace(q.Get("lang")),
		Units:         strings.ToLower(strings.TrimSpace(q.Get("units"))),
	}

	var err error
	if req.Latitude, err = parseCoordinate(q, "latitude"); err != nil {
		h.writeInvalid(w, r, req.CorrelationID, err)
		return
	}
	if req.Longitude, err = parseCoordinate(q, "longitude"); err != nil {
		h.writeInvalid(w, r, req.CorrelationID, err)
		return
	}
	if s := strings.TrimSpace(q.Get("days")); s != "" {
		if req.MaxDailies, err = strconv.Atoi(s); err != nil {
			h.writeInvalid(w, r, req.CorrelationID, fmt.Errorf("days must be an integer"))
			return
		}
	}
	h.serve(w, r, req)
}

// PostForecast handles POST /forecast with the inbound request message as body.
// A missing correlationId falls back to the request's correlation id.
func (h *Handler) PostForecast(w http.ResponseWriter, r *http.Request) {
	var req models.ForecastRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if isMaxBytesError(err) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large")
			return
		}
		h.writeInvalid(w, r, correlationID(r), fmt.Errorf("malformed request body: %w", err))
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = correlationID(r)
	}
	h.serve(w, r, req)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, req models.ForecastRequest) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)

	res, ok := h.forecaster.Forecast(r.Context(), req)
	if !ok {
		logger.Debug("forecast cancelled before completion", zap.Error(r.Context().Err()))
		writeError(w, r, http.StatusConflict, "REQUEST_CANCELLED", "Request was cancelled or superseded")
		return
	}
	traffic.RecordResult(res)

	if res.Err != nil {
		status := statusForKind(res.Err.Kind)
		if status >= 500 {
			logger.Warn("forecast failed",
				zap.String("error_kind", string(res.Err.Kind)),
				zap.String("cause", string(res.Err.Cause)),
				zap.Int("upstream_status", res.Err.Status),
				zap.String("message", res.Err.Message))
		}
		writeJSON(w, status, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, res.Forecast)
}

func (h *Handler) writeInvalid(w http.ResponseWriter, r *http.Request, corrID string, err error) {
	ferr := models.NewForecastError(corrID, models.KindInvalidRequest, err.Error())
	traffic.RecordResult(models.Result{Err: ferr})
	observability.ForecastResultsTotal.WithLabelValues(string(models.KindInvalidRequest)).Inc()
	writeJSON(w, http.StatusBadRequest, ferr)
}

// statusForKind maps an error kind onto the HTTP status of the response.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalidRequest:
		return http.StatusBadRequest
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// parseCoordinate returns nil for an absent parameter so validation reports it as missing.
func parseCoordinate(q map[string][]string, name string) (*float64, error) {
	vals := q[name]
	if len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(vals[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(time.Now())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"forecastApi": "healthy"}
	if result.reason == "error_rate_breach" || result.reason == "circuit_open" {
		checks["forecastApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > overloaded > circuit open > degraded > healthy.
func (h *Handler) computeHealthStatus(now time.Time) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if !lifecycle.IsReady(now, h.healthConfig.ReadyDelay) {
		return healthResult{"starting", http.StatusServiceUnavailable, "ready_delay"}
	}
	if h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadWindow > 0 && h.healthConfig.OverloadThresholdPct > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.healthConfig.ProviderState != nil && h.healthConfig.ProviderState() == "open" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a transport-level error (rate limiting, cancellation) in
// the {"error": {code, message, requestId}} envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}

func correlationID(r *http.Request) string {
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		return v
	}
	return ""
}

// isMaxBytesError reports whether err came from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

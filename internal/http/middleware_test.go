package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/observability"
	"github.com/kjstillabower/forecast-service/internal/traffic"
)

// TestCorrelationIDMiddleware_Propagated verifies that a client-provided id
// is echoed and reaches the handler context and logger.
func TestCorrelationIDMiddleware_Propagated(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var seen string

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value("correlation_id").(string)
		observability.LoggerFromContext(r.Context(), nil).Info("inside")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if seen != "client-provided-id" {
		t.Errorf("context correlation_id = %q", seen)
	}
	entries := logs.FilterMessage("inside").All()
	if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != "client-provided-id" {
		t.Errorf("logger not scoped to correlation id: %v", entries)
	}
}

func TestCorrelationIDMiddleware_Generated(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := w.Header().Get("X-Correlation-ID"); len(got) != 36 {
		t.Errorf("generated X-Correlation-ID = %q, want a UUID", got)
	}
}

// TestTimeoutMiddleware verifies the request context carries the deadline.
func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/forecast", nil))

	if !ok || time.Until(deadline) > 50*time.Millisecond {
		t.Errorf("deadline = %v, %v; want within 50ms", deadline, ok)
	}
}

// TestTimeoutMiddleware_ForecastTimesOut verifies that an exceeded request
// deadline surfaces as 504 when the forecaster reports Timeout.
func TestTimeoutMiddleware_ForecastTimesOut(t *testing.T) {
	f := &stubForecaster{result: func(ctx context.Context, req models.ForecastRequest) (models.Result, bool) {
		<-ctx.Done()
		return models.Result{Err: models.NewForecastError(req.CorrelationID, models.KindTimeout, ctx.Err().Error())}, true
	}}
	router := NewRouter(NewHandler(f, nil, nil), zap.NewNop(), RouterConfig{RequestTimeout: 20 * time.Millisecond})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/forecast?latitude=1&longitude=1", nil))

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

// TestRateLimitMiddleware verifies 429 after the burst is spent and that the
// denial is recorded.
func TestRateLimitMiddleware(t *testing.T) {
	traffic.Reset()
	defer traffic.Reset()

	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	router := NewRouter(NewHandler(&stubForecaster{result: forecastOK}, nil, nil), zap.NewNop(), RouterConfig{RateLimiter: limiter})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/forecast?latitude=1&longitude=1", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/forecast?latitude=1&longitude=1", nil))

	if first.Code != http.StatusOK {
		t.Errorf("first status = %d, want 200", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}
	if !strings.Contains(second.Body.String(), "RATE_LIMITED") {
		t.Errorf("body = %s", second.Body.String())
	}
	if n := traffic.DenialCount(time.Minute); n != 1 {
		t.Errorf("DenialCount() = %d, want 1", n)
	}
}

// TestRateLimitMiddleware_HealthNotLimited verifies only /forecast is limited.
func TestRateLimitMiddleware_HealthNotLimited(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	limiter.Allow()
	router := NewRouter(NewHandler(&stubForecaster{result: forecastOK}, nil, nil), zap.NewNop(), RouterConfig{RateLimiter: limiter})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code == http.StatusTooManyRequests {
		t.Error("/health was rate limited")
	}
}

// TestMetricsMiddleware_TracksInFlight verifies the drain counter rises
// during a request and returns to zero.
func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/forecast", nil))

	if during < 1 {
		t.Errorf("InFlightCount() during request = %d, want >= 1", during)
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() after = %d, want 0", InFlightCount())
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(NewHandler(&stubForecaster{result: forecastOK}, nil, nil), zap.NewNop(), RouterConfig{})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/forecast?latitude=1&longitude=1", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `httpRequestsTotal{method="GET",route="/forecast",statusCode="2xx"}`) {
		t.Error("metrics output missing /forecast request counter")
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/forecast", "/forecast"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/forecast/extra", "other"},
		{"/random", "other"},
	}
	for _, tt := range tests {
		if got := getRoute(httptest.NewRequest(http.MethodGet, tt.path, nil)); got != tt.want {
			t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 404: "4xx", 502: "5xx", 504: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

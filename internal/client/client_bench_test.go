package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// BenchmarkRequestBuilder_Build benchmarks section URL construction.
func BenchmarkRequestBuilder_Build(b *testing.B) {
	builder, _ := NewRequestBuilder("https://api.open-meteo.com/v1/forecast", ModeSections)
	lat, lon := 47.6062, -122.3321
	req := models.ForecastRequest{Latitude: &lat, Longitude: &lon, MaxDailies: 7}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = builder.Build(req)
	}
}

// BenchmarkExecutor_Execute benchmarks a full fetch against a local server.
func BenchmarkExecutor_Execute(b *testing.B) {
	body := []byte(`{"utc_offset_seconds":0,"daily":{"time":[1700000000,1700086400],"weather_code":[3,61]}}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	e := NewExecutor(server.Client(), 2*time.Second)
	spec := models.SectionSpec{URL: server.URL, Role: models.RoleDaily}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.Execute(ctx, spec, 0)
	}
}

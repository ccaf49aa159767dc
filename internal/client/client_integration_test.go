//go:build integration
// +build integration

package client

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-service/internal/models"
)

func TestExecutor_OpenMeteo_Integration(t *testing.T) {
	apiURL := os.Getenv("FORECAST_API_URL")
	if apiURL == "" {
		apiURL = "https://api.open-meteo.com/v1/forecast"
	}

	builder, err := NewRequestBuilder(apiURL, ModeCombined)
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	lat, lon := 40.0, -75.0
	specs, err := builder.Build(models.ForecastRequest{Latitude: &lat, Longitude: &lon, MaxDailies: 3})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	e := NewExecutor(nil, 10*time.Second)
	got := e.Execute(context.Background(), specs[0], 0)
	if !got.OK() {
		t.Fatalf("Execute() = %s: %s", got.Kind, got.Message)
	}

	var doc struct {
		Daily struct {
			Time []int64 `json:"time"`
		} `json:"daily"`
	}
	if err := json.Unmarshal(got.Body, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(doc.Daily.Time) != 3 {
		t.Errorf("daily.time length = %d, want 3", len(doc.Daily.Time))
	}
}

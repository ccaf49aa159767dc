package client

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/kjstillabower/forecast-service/internal/models"
)

func fptr(f float64) *float64 { return &f }

func TestNewRequestBuilder_InvalidConfig(t *testing.T) {
	if _, err := NewRequestBuilder("::not a url", ModeCombined); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("NewRequestBuilder() error = %v, want ErrInvalidURL", err)
	}
	if _, err := NewRequestBuilder("/relative/path", ModeCombined); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("NewRequestBuilder() error = %v, want ErrInvalidURL", err)
	}
	if _, err := NewRequestBuilder("https://api.open-meteo.com/v1/forecast", Mode("fanout")); err == nil {
		t.Error("NewRequestBuilder() expected error for unknown mode")
	}
	b, err := NewRequestBuilder("https://api.open-meteo.com/v1/forecast", "")
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	if b.Mode() != ModeCombined {
		t.Errorf("Mode() = %q, want combined", b.Mode())
	}
}

func TestRequestBuilder_Build_Combined(t *testing.T) {
	b, err := NewRequestBuilder("https://api.open-meteo.com/v1/forecast", ModeCombined)
	if err != nil {
		t.Fatalf("NewRequestBuilder() error = %v", err)
	}
	specs, err := b.Build(models.ForecastRequest{Latitude: fptr(40), Longitude: fptr(-75), MaxDailies: 5, CorrelationID: "c1"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(specs) != 1 || specs[0].Role != models.RoleCombined {
		t.Fatalf("Build() = %+v, want one combined spec", specs)
	}

	u, err := url.Parse(specs[0].URL)
	if err != nil {
		t.Fatalf("parse built URL: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"latitude":      "40",
		"longitude":     "-75",
		"timeformat":    "unixtime",
		"timezone":      "auto",
		"forecast_days": "5",
		"current":       strings.Join(CurrentVariables, ","),
		"hourly":        strings.Join(HourlyVariables, ","),
		"daily":         strings.Join(DailyVariables, ","),
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
	if q.Has("apikey") || q.Has("temperature_unit") {
		t.Errorf("unexpected query params: %s", u.RawQuery)
	}
}

func TestRequestBuilder_Build_Sections(t *testing.T) {
	b, _ := NewRequestBuilder("https://api.open-meteo.com/v1/forecast", ModeSections)
	specs, err := b.Build(models.ForecastRequest{Latitude: fptr(40.5), Longitude: fptr(-75.25), MaxDailies: 3, Units: "imperial"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("len(specs) = %d, want 3", len(specs))
	}
	roles := []models.Role{models.RoleCurrent, models.RoleHourly, models.RoleDaily}
	for i, spec := range specs {
		if spec.Role != roles[i] {
			t.Errorf("specs[%d].Role = %q, want %q", i, spec.Role, roles[i])
		}
		u, _ := url.Parse(spec.URL)
		q := u.Query()
		for _, r := range roles {
			if (r == spec.Role) != q.Has(string(r)) {
				t.Errorf("%s spec: has %s param = %v", spec.Role, r, q.Has(string(r)))
			}
		}
		if q.Get("temperature_unit") != "fahrenheit" || q.Get("wind_speed_unit") != "mph" || q.Get("precipitation_unit") != "inch" {
			t.Errorf("%s spec missing imperial units: %s", spec.Role, u.RawQuery)
		}
	}
}

// TestRequestBuilder_Build_Deterministic verifies that repeated builds yield
// byte-identical URLs with sorted, percent-encoded query parameters, and that
// the encoded values round-trip back to the request.
func TestRequestBuilder_Build_Deterministic(t *testing.T) {
	b, _ := NewRequestBuilder("https://example.test/v1/forecast?models=best_match", ModeCombined)
	req := models.ForecastRequest{Latitude: fptr(-33.8688), Longitude: fptr(151.2093), MaxDailies: 7}

	first, err := b.Build(req)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for i := 0; i < 20; i++ {
		again, _ := b.Build(req)
		if again[0].URL != first[0].URL {
			t.Fatalf("Build() not deterministic:\n%s\n%s", first[0].URL, again[0].URL)
		}
	}

	u, _ := url.Parse(first[0].URL)
	keys := make([]string, 0)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		keys = append(keys, strings.SplitN(pair, "=", 2)[0])
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("query keys not sorted: %v", keys)
		}
	}
	if !strings.Contains(u.RawQuery, "current=temperature_2m%2Capparent_temperature") {
		t.Errorf("variable list not percent-encoded: %s", u.RawQuery)
	}
	q := u.Query()
	if q.Get("latitude") != "-33.8688" || q.Get("longitude") != "151.2093" {
		t.Errorf("coordinates did not round-trip: %s", u.RawQuery)
	}
	if q.Get("models") != "best_match" {
		t.Errorf("base URL query dropped: %s", u.RawQuery)
	}
}

func TestRequestBuilder_Build_InvalidRequest(t *testing.T) {
	b, _ := NewRequestBuilder("https://api.open-meteo.com/v1/forecast", ModeSections)
	tests := []struct {
		name string
		req  models.ForecastRequest
	}{
		{"null latitude", models.ForecastRequest{Longitude: fptr(-75), MaxDailies: 5, CorrelationID: "c9"}},
		{"null longitude", models.ForecastRequest{Latitude: fptr(40), MaxDailies: 5, CorrelationID: "c9"}},
		{"non-positive dailies", models.ForecastRequest{Latitude: fptr(40), Longitude: fptr(-75), MaxDailies: -1, CorrelationID: "c9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := b.Build(tt.req)
			if specs != nil {
				t.Errorf("Build() specs = %+v, want nil", specs)
			}
			var fe *models.ForecastError
			if !errors.As(err, &fe) {
				t.Fatalf("Build() error = %v, want *ForecastError", err)
			}
			if fe.Kind != models.KindInvalidRequest || fe.CorrelationID != "c9" {
				t.Errorf("Build() error = %+v, want InvalidRequest for c9", fe)
			}
		})
	}
}

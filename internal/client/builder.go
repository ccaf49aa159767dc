package client

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/forecast-service/internal/models"
	"github.com/kjstillabower/forecast-service/internal/validation"
)

// Mode selects how sections are fetched from the provider.
type Mode string

const (
	// ModeCombined fetches current, hourly and daily in one call.
	ModeCombined Mode = "combined"
	// ModeSections fetches each section with its own call.
	ModeSections Mode = "sections"
)

// ErrInvalidURL is returned when the configured provider URL cannot be parsed.
var ErrInvalidURL = errors.New("invalid provider URL")

// Provider variable lists, in the order the provider echoes them back.
var (
	CurrentVariables = []string{
		"temperature_2m", "apparent_temperature", "relative_humidity_2m", "weather_code",
		"wind_speed_10m", "wind_direction_10m", "precipitation", "is_day",
	}
	HourlyVariables = []string{
		"temperature_2m", "precipitation_probability", "weather_code", "wind_speed_10m",
	}
	DailyVariables = []string{
		"weather_code", "temperature_2m_max", "temperature_2m_min", "precipitation_sum",
		"precipitation_probability_max", "wind_speed_10m_max", "sunrise", "sunset",
	}
)

// RequestBuilder turns a ForecastRequest into provider SectionSpecs.
type RequestBuilder struct {
	baseURL *url.URL
	mode    Mode
}

// NewRequestBuilder parses apiURL once; Build never touches the network.
func NewRequestBuilder(apiURL string, mode Mode) (*RequestBuilder, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, apiURL)
	}
	switch mode {
	case ModeCombined, ModeSections:
	case "":
		mode = ModeCombined
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", mode)
	}
	return &RequestBuilder{baseURL: u, mode: mode}, nil
}

// Mode returns the configured fetch mode.
func (b *RequestBuilder) Mode() Mode {
	return b.mode
}

// Build validates req and returns one combined spec or one spec per role.
// Validation failures are returned as *models.ForecastError of kind InvalidRequest.
func (b *RequestBuilder) Build(req models.ForecastRequest) ([]models.SectionSpec, error) {
	if err := validation.ValidateRequest(req); err != nil {
		return nil, models.NewForecastError(req.CorrelationID, models.KindInvalidRequest, err.Error())
	}

	if b.mode == ModeCombined {
		params := b.baseParams(req)
		params.Set("current", strings.Join(CurrentVariables, ","))
		params.Set("hourly", strings.Join(HourlyVariables, ","))
		params.Set("daily", strings.Join(DailyVariables, ","))
		return []models.SectionSpec{{URL: b.encode(params), Role: models.RoleCombined}}, nil
	}

	sections := []struct {
		role models.Role
		vars []string
	}{
		{models.RoleCurrent, CurrentVariables},
		{models.RoleHourly, HourlyVariables},
		{models.RoleDaily, DailyVariables},
	}
	specs := make([]models.SectionSpec, 0, len(sections))
	for _, s := range sections {
		params := b.baseParams(req)
		params.Set(string(s.role), strings.Join(s.vars, ","))
		specs = append(specs, models.SectionSpec{URL: b.encode(params), Role: s.role})
	}
	return specs, nil
}

func (b *RequestBuilder) baseParams(req models.ForecastRequest) url.Values {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(*req.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(*req.Longitude, 'f', -1, 64))
	params.Set("timeformat", "unixtime")
	params.Set("timezone", "auto")
	params.Set("forecast_days", strconv.Itoa(req.MaxDailies))
	if req.Units == "imperial" {
		params.Set("temperature_unit", "fahrenheit")
		params.Set("wind_speed_unit", "mph")
		params.Set("precipitation_unit", "inch")
	}
	return params
}

// encode keeps any query already present on the base URL; url.Values.Encode sorts by key.
func (b *RequestBuilder) encode(params url.Values) string {
	u := *b.baseURL
	if existing := u.Query(); len(existing) > 0 {
		for k, vs := range existing {
			if _, ok := params[k]; !ok {
				params[k] = vs
			}
		}
	}
	u.RawQuery = params.Encode()
	return u.String()
}

package models

import (
	"encoding/json"
	"time"
)

// ForecastRequest is the inbound request message. Latitude and Longitude are
// pointers so that an absent coordinate is distinguishable from 0.
type ForecastRequest struct {
	Latitude      *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude     *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	MaxDailies    int      `json:"maxDailies" validate:"gt=0,lte=16"`
	CorrelationID string   `json:"correlationId"`
	Language      string   `json:"languageHint,omitempty"`
	Units         string   `json:"unitsHint,omitempty" validate:"omitempty,oneof=metric imperial"`
}

// Role names the forecast section a SectionSpec fetches.
type Role string

const (
	RoleCurrent  Role = "current"
	RoleHourly   Role = "hourly"
	RoleDaily    Role = "daily"
	RoleCombined Role = "combined"
)

// SectionSpec describes one HTTP call against the provider.
type SectionSpec struct {
	URL  string
	Role Role
}

// FetchOutcome is the classified result of one section fetch.
// Exactly one of Body (success) or Kind (failure) is meaningful; see OK.
type FetchOutcome struct {
	Body       json.RawMessage
	HTTPStatus int

	Kind    ErrorKind
	Message string
}

// Success builds a successful outcome.
func Success(body json.RawMessage, status int) FetchOutcome {
	return FetchOutcome{Body: body, HTTPStatus: status}
}

// Failure builds a failed outcome. status is only meaningful for KindHTTPStatus.
func Failure(kind ErrorKind, status int, message string) FetchOutcome {
	return FetchOutcome{Kind: kind, HTTPStatus: status, Message: message}
}

// OK reports whether the fetch succeeded.
func (o FetchOutcome) OK() bool {
	return o.Kind == ""
}

// NormalizedForecast is the merged forecast handed to the caller.
// All instants are Unix epoch seconds.
type NormalizedForecast struct {
	CorrelationID    string             `json:"correlationId"`
	Latitude         float64            `json:"latitude"`
	Longitude        float64            `json:"longitude"`
	Timezone         string             `json:"timezone,omitempty"`
	UTCOffsetSeconds int                `json:"utcOffsetSeconds"`
	Units            string             `json:"units,omitempty"`
	Current          *CurrentConditions `json:"current,omitempty"`
	Hourly           []HourlySample     `json:"hourly"`
	Daily            []DailySummary     `json:"daily"`
	RetrievedAt      time.Time          `json:"retrievedAt"`
	Stale            bool               `json:"stale,omitempty"` // served from stale cache
}

type CurrentConditions struct {
	Time                int64    `json:"time"`
	Temperature         *float64 `json:"temperature,omitempty"`
	ApparentTemperature *float64 `json:"apparentTemperature,omitempty"`
	Humidity            *float64 `json:"humidity,omitempty"`
	WeatherCode         *int     `json:"weatherCode,omitempty"`
	WindSpeed           *float64 `json:"windSpeed,omitempty"`
	WindDirection       *float64 `json:"windDirection,omitempty"`
	Precipitation       *float64 `json:"precipitation,omitempty"`
	IsDay               *bool    `json:"isDay,omitempty"`
}

type HourlySample struct {
	Time                     int64    `json:"time"`
	Temperature              *float64 `json:"temperature,omitempty"`
	PrecipitationProbability *float64 `json:"precipitationProbability,omitempty"`
	WeatherCode              *int     `json:"weatherCode,omitempty"`
	WindSpeed                *float64 `json:"windSpeed,omitempty"`
}

type DailySummary struct {
	Time                        int64    `json:"time"`
	WeatherCode                 *int     `json:"weatherCode,omitempty"`
	TemperatureMax              *float64 `json:"temperatureMax,omitempty"`
	TemperatureMin              *float64 `json:"temperatureMin,omitempty"`
	PrecipitationSum            *float64 `json:"precipitationSum,omitempty"`
	PrecipitationProbabilityMax *float64 `json:"precipitationProbabilityMax,omitempty"`
	WindSpeedMax                *float64 `json:"windSpeedMax,omitempty"`
	Sunrise                     *int64   `json:"sunrise,omitempty"`
	Sunset                      *int64   `json:"sunset,omitempty"`
}

// Result is the terminal event of a forecast request. Exactly one of
// Forecast or Err is set.
type Result struct {
	Forecast *NormalizedForecast
	Err      *ForecastError
}

// CorrelationID returns the correlation id carried by whichever side is set.
func (r Result) CorrelationID() string {
	if r.Err != nil {
		return r.Err.CorrelationID
	}
	if r.Forecast != nil {
		return r.Forecast.CorrelationID
	}
	return ""
}

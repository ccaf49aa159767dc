package merge

import (
	"encoding/json"
	"fmt"

	"github.com/kjstillabower/forecast-service/internal/models"
)

type currentSection struct {
	Time                json.RawMessage `json:"time"`
	Temperature         *float64        `json:"temperature_2m"`
	ApparentTemperature *float64        `json:"apparent_temperature"`
	Humidity            *float64        `json:"relative_humidity_2m"`
	WeatherCode         *float64        `json:"weather_code"`
	WindSpeed           *float64        `json:"wind_speed_10m"`
	WindDirection       *float64        `json:"wind_direction_10m"`
	Precipitation       *float64        `json:"precipitation"`
	IsDay               *float64        `json:"is_day"`
}

type hourlySection struct {
	Time                     []json.RawMessage `json:"time"`
	Temperature              []*float64        `json:"temperature_2m"`
	PrecipitationProbability []*float64        `json:"precipitation_probability"`
	WeatherCode              []*float64        `json:"weather_code"`
	WindSpeed                []*float64        `json:"wind_speed_10m"`
}

type dailySection struct {
	Time                        []json.RawMessage `json:"time"`
	WeatherCode                 []*float64        `json:"weather_code"`
	TemperatureMax              []*float64        `json:"temperature_2m_max"`
	TemperatureMin              []*float64        `json:"temperature_2m_min"`
	PrecipitationSum            []*float64        `json:"precipitation_sum"`
	PrecipitationProbabilityMax []*float64        `json:"precipitation_probability_max"`
	WindSpeedMax                []*float64        `json:"wind_speed_10m_max"`
	Sunrise                     []json.RawMessage `json:"sunrise"`
	Sunset                      []json.RawMessage `json:"sunset"`
}

func decodeCurrent(raw json.RawMessage, offset *int) (*models.CurrentConditions, error) {
	var sec currentSection
	if err := json.Unmarshal(raw, &sec); err != nil {
		return nil, fmt.Errorf("parse current: %w", err)
	}
	ts, err := resolveTime(sec.Time, offset)
	if err != nil {
		return nil, fmt.Errorf("parse current: %w", err)
	}
	var isDay *bool
	if sec.IsDay != nil {
		v := *sec.IsDay != 0
		isDay = &v
	}
	return &models.CurrentConditions{
		Time:                ts,
		Temperature:         sec.Temperature,
		ApparentTemperature: sec.ApparentTemperature,
		Humidity:            sec.Humidity,
		WeatherCode:         toInt(sec.WeatherCode),
		WindSpeed:           sec.WindSpeed,
		WindDirection:       sec.WindDirection,
		Precipitation:       sec.Precipitation,
		IsDay:               isDay,
	}, nil
}

func decodeHourly(raw json.RawMessage, offset *int) ([]models.HourlySample, error) {
	var sec hourlySection
	if err := json.Unmarshal(raw, &sec); err != nil {
		return nil, fmt.Errorf("parse hourly: %w", err)
	}
	n := len(sec.Time)
	if err := alignedLengths(n, map[string]int{
		"temperature_2m":            len(sec.Temperature),
		"precipitation_probability": len(sec.PrecipitationProbability),
		"weather_code":              len(sec.WeatherCode),
		"wind_speed_10m":            len(sec.WindSpeed),
	}); err != nil {
		return nil, fmt.Errorf("parse hourly: %w", err)
	}

	out := make([]models.HourlySample, 0, n)
	for i := 0; i < n; i++ {
		ts, err := resolveTime(sec.Time[i], offset)
		if err != nil {
			return nil, fmt.Errorf("parse hourly[%d]: %w", i, err)
		}
		out = append(out, models.HourlySample{
			Time:                     ts,
			Temperature:              at(sec.Temperature, i),
			PrecipitationProbability: at(sec.PrecipitationProbability, i),
			WeatherCode:              toInt(at(sec.WeatherCode, i)),
			WindSpeed:                at(sec.WindSpeed, i),
		})
	}
	return out, nil
}

func decodeDaily(raw json.RawMessage, offset *int) ([]models.DailySummary, error) {
	var sec dailySection
	if err := json.Unmarshal(raw, &sec); err != nil {
		return nil, fmt.Errorf("parse daily: %w", err)
	}
	n := len(sec.Time)
	if n == 0 {
		return nil, fmt.Errorf("parse daily: empty time array")
	}
	if err := alignedLengths(n, map[string]int{
		"weather_code":                  len(sec.WeatherCode),
		"temperature_2m_max":            len(sec.TemperatureMax),
		"temperature_2m_min":            len(sec.TemperatureMin),
		"precipitation_sum":             len(sec.PrecipitationSum),
		"precipitation_probability_max": len(sec.PrecipitationProbabilityMax),
		"wind_speed_10m_max":            len(sec.WindSpeedMax),
		"sunrise":                       len(sec.Sunrise),
		"sunset":                        len(sec.Sunset),
	}); err != nil {
		return nil, fmt.Errorf("parse daily: %w", err)
	}

	out := make([]models.DailySummary, 0, n)
	for i := 0; i < n; i++ {
		ts, err := resolveTime(sec.Time[i], offset)
		if err != nil {
			return nil, fmt.Errorf("parse daily[%d]: %w", i, err)
		}
		day := models.DailySummary{
			Time:                        ts,
			WeatherCode:                 toInt(at(sec.WeatherCode, i)),
			TemperatureMax:              at(sec.TemperatureMax, i),
			TemperatureMin:              at(sec.TemperatureMin, i),
			PrecipitationSum:            at(sec.PrecipitationSum, i),
			PrecipitationProbabilityMax: at(sec.PrecipitationProbabilityMax, i),
			WindSpeedMax:                at(sec.WindSpeedMax, i),
		}
		if i < len(sec.Sunrise) {
			if day.Sunrise, err = resolveOptionalTime(sec.Sunrise[i], offset); err != nil {
				return nil, fmt.Errorf("parse daily[%d] sunrise: %w", i, err)
			}
		}
		if i < len(sec.Sunset) {
			if day.Sunset, err = resolveOptionalTime(sec.Sunset[i], offset); err != nil {
				return nil, fmt.Errorf("parse daily[%d] sunset: %w", i, err)
			}
		}
		out = append(out, day)
	}
	return out, nil
}

// alignedLengths checks that every column present has one value per time entry.
// Columns the provider did not send (length 0) are allowed.
func alignedLengths(n int, columns map[string]int) error {
	for name, l := range columns {
		if l != 0 && l != n {
			return fmt.Errorf("%s has %d values for %d times", name, l, n)
		}
	}
	return nil
}

func at(col []*float64, i int) *float64 {
	if i < len(col) {
		return col[i]
	}
	return nil
}

func toInt(f *float64) *int {
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}

// Package merge combines section fetch outcomes into one normalized forecast.
package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// document is the provider's top-level response shape. Section bodies are
// decoded separately so one bad section does not spoil the others.
type document struct {
	Latitude         float64         `json:"latitude"`
	Longitude        float64         `json:"longitude"`
	Timezone         string          `json:"timezone"`
	UTCOffsetSeconds *int            `json:"utc_offset_seconds"`
	Current          json.RawMessage `json:"current"`
	Hourly           json.RawMessage `json:"hourly"`
	Daily            json.RawMessage `json:"daily"`
}

func (d *document) section(role models.Role) json.RawMessage {
	switch role {
	case models.RoleCurrent:
		return d.Current
	case models.RoleHourly:
		return d.Hourly
	case models.RoleDaily:
		return d.Daily
	}
	return nil
}

// sectionState is either a decoded document carrying the section or the
// failure that prevented it.
type sectionState struct {
	doc     *document
	failure models.FetchOutcome
}

// Merger is stateless; one value may serve concurrent requests.
type Merger struct {
	now func() time.Time
}

// New returns a Merger stamping RetrievedAt with the wall clock.
func New() *Merger {
	return &Merger{now: time.Now}
}

// Merge decides the terminal Result for a set of outcomes. A combined
// outcome takes precedence over role outcomes. Daily is required; a missing
// or unusable current or hourly section leaves that field empty.
func (m *Merger) Merge(correlationID string, outcomes map[models.Role]models.FetchOutcome) models.Result {
	states, ferr := m.collect(correlationID, outcomes)
	if ferr != nil {
		return models.Result{Err: ferr}
	}

	daily := states[models.RoleDaily]
	if daily.doc == nil {
		return models.Result{Err: mergeError(correlationID, daily.failure)}
	}
	days, err := decodeDaily(daily.doc.Daily, daily.doc.UTCOffsetSeconds)
	if err != nil {
		return models.Result{Err: mergeError(correlationID, models.Failure(models.KindParse, 0, err.Error()))}
	}

	forecast := &models.NormalizedForecast{
		CorrelationID:    correlationID,
		Latitude:         daily.doc.Latitude,
		Longitude:        daily.doc.Longitude,
		Timezone:         daily.doc.Timezone,
		UTCOffsetSeconds: derefInt(daily.doc.UTCOffsetSeconds),
		Hourly:           []models.HourlySample{},
		Daily:            days,
		RetrievedAt:      m.now().UTC(),
	}

	if s := states[models.RoleCurrent]; s.doc != nil {
		if cur, err := decodeCurrent(s.doc.Current, s.doc.UTCOffsetSeconds); err == nil {
			forecast.Current = cur
		}
	}
	if s := states[models.RoleHourly]; s.doc != nil {
		if hours, err := decodeHourly(s.doc.Hourly, s.doc.UTCOffsetSeconds); err == nil {
			forecast.Hourly = hours
		}
	}
	return models.Result{Forecast: forecast}
}

// collect resolves each role to a document or a failure. Only a failed
// combined fetch is fatal here; role failures are judged by Merge.
func (m *Merger) collect(correlationID string, outcomes map[models.Role]models.FetchOutcome) (map[models.Role]sectionState, *models.ForecastError) {
	roles := []models.Role{models.RoleCurrent, models.RoleHourly, models.RoleDaily}
	states := make(map[models.Role]sectionState, len(roles))

	if combined, ok := outcomes[models.RoleCombined]; ok {
		if !combined.OK() {
			return nil, &models.ForecastError{
				CorrelationID: correlationID,
				Kind:          combined.Kind,
				Message:       combined.Message,
				Status:        combined.HTTPStatus,
			}
		}
		doc, err := decodeDocument(combined.Body)
		if err != nil {
			return nil, models.NewForecastError(correlationID, models.KindParse, err.Error())
		}
		for _, role := range roles {
			states[role] = stateFor(doc, role)
		}
		return states, nil
	}

	for _, role := range roles {
		o, ok := outcomes[role]
		switch {
		case !ok:
			states[role] = sectionState{failure: models.Failure(models.KindMerge, 0, "section not fetched")}
		case !o.OK():
			states[role] = sectionState{failure: o}
		default:
			doc, err := decodeDocument(o.Body)
			if err != nil {
				states[role] = sectionState{failure: models.Failure(models.KindParse, o.HTTPStatus, err.Error())}
				continue
			}
			states[role] = stateFor(doc, role)
		}
	}
	return states, nil
}

func stateFor(doc *document, role models.Role) sectionState {
	if isAbsent(doc.section(role)) {
		return sectionState{failure: models.Failure(models.KindParse, 0, fmt.Sprintf("%s section absent from response", role))}
	}
	return sectionState{doc: doc}
}

func mergeError(correlationID string, cause models.FetchOutcome) *models.ForecastError {
	return &models.ForecastError{
		CorrelationID: correlationID,
		Kind:          models.KindMerge,
		Message:       fmt.Sprintf("daily section unusable: %s: %s", cause.Kind, cause.Message),
		Cause:         cause.Kind,
		Status:        cause.HTTPStatus,
	}
}

func decodeDocument(body json.RawMessage) (*document, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, errors.New("parse response: expected a JSON object")
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &doc, nil
}

func isAbsent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

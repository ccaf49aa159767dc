package models

import "fmt"

// ErrorKind is a stable label for forecast failures. Used in the outbound
// error message and as a metric label.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "InvalidRequest"
	KindTimeout        ErrorKind = "Timeout"
	KindNetwork        ErrorKind = "NetworkError"
	KindHTTPStatus     ErrorKind = "HttpStatusError"
	KindParse          ErrorKind = "ParseError"
	KindMerge          ErrorKind = "MergeError"
)

// ForecastError is emitted in place of a NormalizedForecast.
// Cause and Status name the section failure behind a MergeError.
type ForecastError struct {
	CorrelationID string    `json:"correlationId"`
	Kind          ErrorKind `json:"errorKind"`
	Message       string    `json:"message"`
	Cause         ErrorKind `json:"cause,omitempty"`
	Status        int       `json:"status,omitempty"`
}

func (e *ForecastError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Cause, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewForecastError returns a ForecastError without a section cause.
func NewForecastError(correlationID string, kind ErrorKind, message string) *ForecastError {
	return &ForecastError{CorrelationID: correlationID, Kind: kind, Message: message}
}

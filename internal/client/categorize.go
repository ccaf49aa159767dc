package client

import (
	"net/http"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// Outcome labels used by sectionFetchTotal and sectionFetchDurationSeconds.
const (
	OutcomeSuccess     = "success"
	OutcomeTimeout     = "timeout"
	OutcomeNetwork     = "network"
	OutcomeRateLimited = "rate_limited"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
	OutcomeParse       = "parsing"
	OutcomeUnknown     = "unknown"
)

// OutcomeLabel maps a FetchOutcome to a stable metric label.
func OutcomeLabel(o models.FetchOutcome) string {
	switch o.Kind {
	case "":
		return OutcomeSuccess
	case models.KindTimeout:
		return OutcomeTimeout
	case models.KindNetwork:
		return OutcomeNetwork
	case models.KindParse:
		return OutcomeParse
	case models.KindHTTPStatus:
		return statusLabel(o.HTTPStatus)
	}
	return OutcomeUnknown
}

func statusLabel(statusCode int) string {
	if statusCode == http.StatusTooManyRequests {
		return OutcomeRateLimited
	}
	if statusCode >= 400 && statusCode < 500 {
		return OutcomeClientError
	}
	if statusCode >= 500 {
		return OutcomeServerError
	}
	return OutcomeUnknown
}

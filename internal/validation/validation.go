package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/kjstillabower/forecast-service/internal/models"
)

// ErrCoordinatesMissing is returned when latitude or longitude is absent.
var ErrCoordinatesMissing = errors.New("latitude and longitude are required")

// ErrCoordinatesOutOfRange is returned when latitude or longitude is outside the valid range.
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// ErrMaxDailies is returned when the requested day count is not in 1..16.
var ErrMaxDailies = errors.New("maxDailies must be between 1 and 16")

// ErrLanguage is returned when the language hint is not a well-formed BCP 47 tag.
var ErrLanguage = errors.New("languageHint is not a valid language tag")

// ErrUnits is returned when the units hint is not metric or imperial.
var ErrUnits = errors.New("unitsHint must be metric or imperial")

var validate = validator.New()

// ValidateRequest checks a ForecastRequest before any network call is made.
// The returned error wraps one of the Err* sentinels.
func ValidateRequest(req models.ForecastRequest) error {
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return fmt.Errorf("validate request: %w", err)
		}
		return fieldError(verrs[0])
	}
	if req.Language != "" {
		if _, err := language.Parse(req.Language); err != nil {
			return fmt.Errorf("%w: %q", ErrLanguage, req.Language)
		}
	}
	return nil
}

// fieldError maps the first failing field to its sentinel.
func fieldError(fe validator.FieldError) error {
	switch fe.Field() {
	case "Latitude", "Longitude":
		if fe.Tag() == "required" {
			return fmt.Errorf("%w: %s missing", ErrCoordinatesMissing, strings.ToLower(fe.Field()))
		}
		return fmt.Errorf("%w: %s=%v", ErrCoordinatesOutOfRange, strings.ToLower(fe.Field()), fe.Value())
	case "MaxDailies":
		return fmt.Errorf("%w: got %v", ErrMaxDailies, fe.Value())
	case "Units":
		return fmt.Errorf("%w: got %q", ErrUnits, fe.Value())
	}
	return fmt.Errorf("invalid %s: %s", fe.Field(), fe.Tag())
}

package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingField indicates required payload keys are absent.
	ErrMissingField = errors.New("telemetry: missing field")
	// ErrTypeMismatch indicates payload values that are not numeric.
	ErrTypeMismatch = errors.New("telemetry: type mismatch")
	// ErrNoData indicates an empty payload.
	ErrNoData = errors.New("telemetry: no data provided")
	// ErrStorage wraps every store failure.
	ErrStorage = errors.New("telemetry: storage error")
	// ErrDeviceNotFound indicates an unknown device id.
	ErrDeviceNotFound = errors.New("telemetry: device not found")
)

// FieldError names the payload fields a validation failure refers to.
type FieldError struct {
	Kind   error
	Fields []string
}

func (e *FieldError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrMissingField):
		return fmt.Sprintf("Missing required fields: %s", strings.Join(e.Fields, ", "))
	case errors.Is(e.Kind, ErrTypeMismatch):
		return fmt.Sprintf("Invalid data types. All values must be numeric: %s", strings.Join(e.Fields, ", "))
	default:
		return fmt.Sprintf("invalid fields: %s", strings.Join(e.Fields, ", "))
	}
}

func (e *FieldError) Unwrap() error { return e.Kind }

// Reason maps an ingest error to a short metrics label.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}

package shipper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError wraps validator.ValidationErrors with a user-friendly message.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", fieldPath(err), msgForTag(err)))
	}
	return strings.Join(msgs, "; ")
}

// Fields returns a map of field paths to error messages.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, err := range e.Errors {
		fields[fieldPath(err)] = msgForTag(err)
	}
	return fields
}

// Is lets errors.Is match the address and package sentinels depending on
// which part of the request failed.
func (e *ValidationError) Is(target error) bool {
	for _, fe := range e.Errors {
		ns := fe.StructNamespace()
		switch {
		case target == ErrInvalidPackage && strings.Contains(ns, ".Packages"):
			return true
		case target == ErrInvalidAddress && (strings.Contains(ns, ".Shipper.") || strings.Contains(ns, ".Recipient.")):
			return true
		}
	}
	return false
}

// Validate checks a request or model struct against its validate tags.
func Validate(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return &ValidationError{Errors: validationErrors}
		}
		return err
	}
	return nil
}

// ValidateRateRequest validates a rate request.
func ValidateRateRequest(req *RateRequest) error {
	return Validate(req)
}

// ValidateShipmentRequest validates a shipment request.
func ValidateShipmentRequest(req *ShipmentRequest) error {
	return Validate(req)
}

// fieldPath drops the root struct name so "RateRequest.Packages[0].Weight.Value"
// becomes "Packages[0].Weight.Value".
func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "iso3166_1_alpha2":
		return "must be an ISO-3166 alpha-2 country code"
	case "iso4217":
		return "must be an ISO-4217 currency code"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

package shipper

import (
	"errors"
	"fmt"
)

// Request problems. The caller must change the request before retrying.
var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidPackage    = errors.New("invalid package")
	ErrServiceNotOffered = errors.New("service not offered")
)

// Carrier-side problems.
var (
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Lookups.
var (
	ErrCarrierNotFound  = errors.New("carrier not found")
	ErrTrackingNotFound = errors.New("tracking number not found")
	ErrNoQuotes         = errors.New("no quotes available")
)

// ShipperError is a failure reported by, or while talking to, one carrier.
// Code is the carrier's own error code when it sent one.
type ShipperError struct {
	Carrier    Carrier
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// NewShipperError returns a ShipperError for carrier. Chain WithStatusCode,
// WithRetryable and WithCause to fill in the rest.
func NewShipperError(carrier Carrier, code, message string) *ShipperError {
	return &ShipperError{Carrier: carrier, Code: code, Message: message}
}

func (e *ShipperError) Error() string {
	msg := fmt.Sprintf("%s error (%s): %s", e.Carrier, e.Code, e.Message)
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

func (e *ShipperError) Unwrap() error { return e.Cause }

// Is matches another *ShipperError with the same code, whatever the carrier.
func (e *ShipperError) Is(target error) bool {
	t, ok := target.(*ShipperError)
	return ok && t.Code == e.Code
}

func (e *ShipperError) WithCause(err error) *ShipperError {
	e.Cause = err
	return e
}

func (e *ShipperError) WithStatusCode(code int) *ShipperError {
	e.StatusCode = code
	return e
}

func (e *ShipperError) WithRetryable(retryable bool) *ShipperError {
	e.Retryable = retryable
	return e
}

// IsRetryable reports whether the same request may succeed later. A
// ShipperError decides for itself; otherwise outages and throttling are
// retryable.
func IsRetryable(err error) bool {
	var se *ShipperError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrRateLimitExceeded)
}

// IsValidation reports whether err was caused by the request contents rather
// than by the carrier or the network.
func IsValidation(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidPackage), errors.Is(err, ErrServiceNotOffered):
		return true
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	var se *ShipperError
	if errors.As(err, &se) {
		return se.StatusCode == 400 || se.StatusCode == 422
	}
	return false
}

package shipping

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRateFetchFailed wraps every GetRates failure. There is no partial
// recovery: either all quotes for the call are returned or this error is.
var ErrRateFetchFailed = errors.New("rate fetch failed")

// ErrTrackFailed wraps Track failures after retries are exhausted.
var ErrTrackFailed = errors.New("tracking lookup failed")

// PurchaseErrorKind classifies a failed shipment purchase.
type PurchaseErrorKind int

const (
	// PurchaseUnknown is any failure not covered by the other kinds. The
	// request is known not to have reached the backend or was refused outright.
	PurchaseUnknown PurchaseErrorKind = iota

	// PurchaseValidation means the backend rejected the request contents
	// (bad address, unknown service code, conflict).
	PurchaseValidation

	// PurchaseCredential means the caller is not authenticated or not
	// permitted to buy labels.
	PurchaseCredential

	// PurchaseAmbiguous means the request may have been processed. A label
	// may or may not have been bought.
	PurchaseAmbiguous
)

func (k PurchaseErrorKind) String() string {
	switch k {
	case PurchaseValidation:
		return "validation"
	case PurchaseCredential:
		return "credential"
	case PurchaseAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// PurchaseError is returned by Client.CreateShipment.
type PurchaseError struct {
	Kind       PurchaseErrorKind
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]string
	Cause      error
}

func (e *PurchaseError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("shipment purchase failed (%s, HTTP %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("shipment purchase failed (%s): %s", e.Kind, msg)
}

func (e *PurchaseError) Unwrap() error {
	return e.Cause
}

// IsAmbiguous reports whether err is a purchase failure whose outcome is unknown.
func IsAmbiguous(err error) bool {
	var pErr *PurchaseError
	return errors.As(err, &pErr) && pErr.Kind == PurchaseAmbiguous
}

// APIError is a non-2xx response from the carrier backend, decoded from its
// {error:{code,message,fields}} envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

// classifyStatus maps a backend status code to a purchase error kind.
func classifyStatus(status int) PurchaseErrorKind {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return PurchaseValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return PurchaseCredential
	}
	if status >= 500 {
		return PurchaseAmbiguous
	}
	return PurchaseUnknown
}

// UserMessage maps an error from this package to a short message suitable
// for showing to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var pErr *PurchaseError
	switch {
	case errors.As(err, &pErr):
		switch pErr.Kind {
		case PurchaseValidation:
			if pErr.Message != "" {
				return "The carrier rejected this shipment: " + pErr.Message + ". Review the addresses, packages and selected service."
			}
			return "The carrier rejected this shipment. Review the addresses, packages and selected service."
		case PurchaseCredential:
			return "You must be signed in with purchasing rights to buy a label. Sign in and try again."
		case PurchaseAmbiguous:
			return "We could not confirm whether the label was purchased. Check your shipments before resubmitting."
		default:
			return "The shipment could not be purchased. Please try again."
		}
	case errors.Is(err, ErrRateFetchFailed):
		return "Unable to fetch shipping rates. Check the addresses and package details, then try again."
	case errors.Is(err, ErrTrackFailed):
		return "Tracking information is unavailable right now."
	case errors.Is(err, ErrBusy):
		return "A request is already in progress."
	case errors.Is(err, ErrUnknownQuote):
		return "That service is not among the current quotes."
	case errors.Is(err, ErrNoSelection):
		return "Select a quote before purchasing."
	case errors.Is(err, ErrAlreadyPurchased):
		return "This shipment has already been purchased. Request new rates to ship again."
	case errors.Is(err, ErrConfirmationRequired):
		return "The previous purchase attempt may have succeeded. Confirm before resubmitting."
	default:
		return "Something went wrong. Please try again."
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/americaniron/ironfreight/internal/catalog"
	"github.com/americaniron/ironfreight/pkg/shipper"
)

// Error codes in the {error:{code,...}} envelope.
const (
	CodeInvalidJSON        = "INVALID_JSON"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeCarrierNotFound    = "CARRIER_NOT_FOUND"
	CodeServiceNotOffered  = "SERVICE_NOT_OFFERED"
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeInvalidPackage     = "INVALID_PACKAGE"
	CodeTrackingNotFound   = "TRACKING_NOT_FOUND"
	CodeNoQuotes           = "NO_QUOTES"
	CodeCarrierUnavailable = "CARRIER_UNAVAILABLE"
	CodeCarrierRateLimited = "CARRIER_RATE_LIMITED"
	CodeCarrierError       = "CARRIER_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeRateLimited        = "RATE_LIMITED"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	WriteJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Fields: fields}})
}

// writeCarrierError maps adapter and registry errors to a status and code.
func writeCarrierError(w http.ResponseWriter, err error) {
	var vErr *shipper.ValidationError
	switch {
	case errors.As(err, &vErr):
		WriteError(w, http.StatusBadRequest, CodeValidation, vErr.Error(), vErr.Fields())
	case errors.Is(err, shipper.ErrCarrierNotFound):
		WriteError(w, http.StatusBadRequest, CodeCarrierNotFound, err.Error(), nil)
	case errors.Is(err, shipper.ErrServiceNotOffered):
		WriteError(w, http.StatusUnprocessableEntity, CodeServiceNotOffered, err.Error(), nil)
	case errors.Is(err, shipper.ErrInvalidAddress):
		WriteError(w, http.StatusUnprocessableEntity, CodeInvalidAddress, err.Error(), nil)
	case errors.Is(err, shipper.ErrInvalidPackage):
		WriteError(w, http.StatusUnprocessableEntity, CodeInvalidPackage, err.Error(), nil)
	case errors.Is(err, shipper.ErrTrackingNotFound):
		WriteError(w, http.StatusNotFound, CodeTrackingNotFound, err.Error(), nil)
	case errors.Is(err, shipper.ErrRateLimitExceeded):
		WriteError(w, http.StatusServiceUnavailable, CodeCarrierRateLimited, err.Error(), nil)
	case errors.Is(err, shipper.ErrServiceUnavailable), shipper.IsRetryable(err):
		WriteError(w, http.StatusServiceUnavailable, CodeCarrierUnavailable, err.Error(), nil)
	case shipper.IsValidation(err):
		WriteError(w, http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil)
	default:
		WriteError(w, http.StatusBadGateway, CodeCarrierError, err.Error(), nil)
	}
}

func writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, catalog.ErrConflict):
		WriteError(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, catalog.ErrInvalid):
		WriteError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternal, "catalog storage failed", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidJSON, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, CodeUnauthenticated, "authentication required", nil)
				return
			}
			if p.Role != role {
				WriteError(w, http.StatusForbidden, CodeForbidden, "role "+role+" required", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

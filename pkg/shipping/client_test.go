package shipping_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/americaniron/ironfreight/pkg/shipping"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func nopLogger() *otelzap.Logger {
	return otelzap.New(zap.NewNop())
}

func tampa() shipper.Address {
	return shipper.Address{Name: "American Iron", Address1: "1 Yard Rd", City: "Tampa", State: "FL", PostalCode: "33618", CountryCode: "US"}
}

func houston() shipper.Address {
	return shipper.Address{Name: "Site 4", Address1: "9 Quarry Ln", City: "Houston", State: "TX", PostalCode: "77001", CountryCode: "US"}
}

func bucket() []shipper.Package {
	return []shipper.Package{{
		Weight:        shipper.Weight{Value: 500, Unit: shipper.WeightLB},
		Dimensions:    shipper.Dimensions{Length: 40, Width: 30, Height: 30, Unit: shipper.DimensionIN},
		DeclaredValue: shipper.Money{Amount: 1200, Currency: "USD"},
	}}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_FallsBackToPlaceholderURL(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	client := shipping.New(shipping.Config{}, otelzap.New(zap.New(core)))

	assert.Equal(t, shipping.FallbackBaseURL, client.BaseURL())
	assert.Equal(t, 1, logs.FilterMessageSnippet("fallback").Len())
}

func TestClient_GetRates_SendsContractAndBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/shipping/rates", r.URL.Path)
		assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))

		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `"AUTO"`, string(body["carrier"]))
		assert.Contains(t, string(body["shipper"]), `"postalCode":"33618"`)
		assert.Contains(t, string(body["packages"]), `"declaredValue"`)

		writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": []shipper.Quote{
			{Carrier: shipper.CarrierUPS, ServiceCode: "03", ServiceName: "UPS Ground", TotalCost: 348.5, Currency: "USD", ETADays: 5},
			{Carrier: shipper.CarrierDHL, ServiceCode: "P", ServiceName: "DHL EXPRESS WORLDWIDE", TotalCost: 1062.54, Currency: "USD", ETADays: 3},
			{Carrier: shipper.CarrierUPS, ServiceCode: "01", ServiceName: "UPS Next Day Air", TotalCost: 1192.75, Currency: "USD", ETADays: 1},
		}})
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{BaseURL: srv.URL, Tokens: shipping.StaticToken("session-token")}, nopLogger())

	quotes, err := client.GetRates(context.Background(), shipper.CarrierAuto, tampa(), houston(), bucket())

	require.NoError(t, err)
	require.Len(t, quotes, 3)
	assert.Equal(t, []string{"03", "P", "01"}, []string{quotes[0].ServiceCode, quotes[1].ServiceCode, quotes[2].ServiceCode})
	for _, q := range quotes {
		assert.GreaterOrEqual(t, q.TotalCost, 0.0)
		assert.GreaterOrEqual(t, q.ETADays, 0)
	}
}

func TestClient_GetRates_AnonymousHasNoAuthorizationHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"quotes": []shipper.Quote{}})
	}))
	defer srv.Close()

	session := shipping.NewSessionIdentity("secret", "test", time.Hour)
	client := shipping.New(shipping.Config{BaseURL: srv.URL, Tokens: session}, nopLogger())

	quotes, err := client.GetRates(context.Background(), shipper.CarrierUPS, tampa(), houston(), bucket())

	require.NoError(t, err)
	assert.Empty(t, quotes)
}

func TestClient_GetRates_FailuresAreOpaque(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"bad gateway", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": map[string]string{"code": "NO_QUOTES", "message": "no carrier produced quotes"}})
		}},
		{"validation", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": map[string]string{"code": "VALIDATION_ERROR", "message": "invalid"}})
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"quotes": [`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := shipping.New(shipping.Config{BaseURL: srv.URL}, nopLogger())
			quotes, err := client.GetRates(context.Background(), shipper.CarrierDHL, tampa(), houston(), bucket())

			assert.Nil(t, quotes)
			assert.True(t, errors.Is(err, shipping.ErrRateFetchFailed))
			assert.Contains(t, shipping.UserMessage(err), "Unable to fetch shipping rates")
		})
	}
}

func TestClient_GetRates_AcceptsAny2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]interface{}{"quotes": []shipper.Quote{
			{Carrier: shipper.CarrierUPS, ServiceCode: "03", ServiceName: "UPS Ground", TotalCost: 348.5, Currency: "USD", ETADays: 5},
		}})
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{BaseURL: srv.URL}, nopLogger())
	quotes, err := client.GetRates(context.Background(), shipper.CarrierUPS, tampa(), houston(), bucket())

	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "03", quotes[0].ServiceCode)
}

func TestClient_CreateShipment_ServiceCodeIsVerbatim(t *testing.T) {
	const code = " UPS-03/Ground ä "
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req shipper.ShipmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = req.SelectedServiceCode
		assert.Equal(t, "ORD-9", req.OrderID())
		writeJSON(w, http.StatusOK, shipper.ShipmentResult{
			Carrier:        shipper.CarrierUPS,
			ServiceName:    "UPS Ground",
			TrackingNumber: "1Z999AA10123456784",
			Label:          shipper.Label{Format: shipper.LabelPDF, SignedURL: "https://labels.example/1"},
		})
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{BaseURL: srv.URL}, nopLogger())
	result, err := client.CreateShipment(context.Background(), &shipper.ShipmentRequest{
		Carrier:             shipper.CarrierUPS,
		SelectedServiceCode: code,
		Shipper:             tampa(),
		Recipient:           houston(),
		Packages:            bucket(),
		Reference:           &shipper.Reference{OrderID: "ORD-9"},
	})

	require.NoError(t, err)
	assert.Equal(t, code, got)
	assert.Equal(t, "1Z999AA10123456784", result.TrackingNumber)
	assert.Equal(t, "https://labels.example/1", result.Label.SignedURL)
}

func TestClient_CreateShipment_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		kind   shipping.PurchaseErrorKind
		msg    string
	}{
		{"service not offered", http.StatusUnprocessableEntity, "SERVICE_NOT_OFFERED", shipping.PurchaseValidation, "carrier rejected"},
		{"bad request", http.StatusBadRequest, "VALIDATION_ERROR", shipping.PurchaseValidation, "carrier rejected"},
		{"conflict", http.StatusConflict, "CONFLICT", shipping.PurchaseValidation, "carrier rejected"},
		{"unauthenticated", http.StatusUnauthorized, "UNAUTHORIZED", shipping.PurchaseCredential, "signed in"},
		{"forbidden", http.StatusForbidden, "FORBIDDEN", shipping.PurchaseCredential, "signed in"},
		{"gateway timeout", http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", shipping.PurchaseAmbiguous, "before resubmitting"},
		{"teapot", http.StatusTeapot, "TEAPOT", shipping.PurchaseUnknown, "could not be purchased"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				writeJSON(w, tt.status, map[string]interface{}{"error": map[string]string{"code": tt.code, "message": "nope"}})
			}))
			defer srv.Close()

			client := shipping.New(shipping.Config{BaseURL: srv.URL}, nopLogger())
			_, err := client.CreateShipment(context.Background(), &shipper.ShipmentRequest{Carrier: shipper.CarrierUPS, SelectedServiceCode: "03"})

			var pErr *shipping.PurchaseError
			require.True(t, errors.As(err, &pErr))
			assert.Equal(t, tt.kind, pErr.Kind)
			assert.Equal(t, tt.status, pErr.StatusCode)
			assert.Equal(t, tt.code, pErr.Code)
			assert.Contains(t, shipping.UserMessage(err), tt.msg)
			assert.Equal(t, int32(1), hits.Load(), "purchases are never retried")
		})
	}
}

func TestClient_CreateShipment_TimeoutIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nopLogger())
	_, err := client.CreateShipment(context.Background(), &shipper.ShipmentRequest{Carrier: shipper.CarrierDHL, SelectedServiceCode: "P"})

	require.Error(t, err)
	assert.True(t, shipping.IsAmbiguous(err))
}

func TestClient_CreateShipment_IncompleteSuccessIsAmbiguous(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"empty object", map[string]interface{}{}},
		{"no label", shipper.ShipmentResult{Carrier: shipper.CarrierDHL, TrackingNumber: "JD014600003"}},
		{"no tracking number", shipper.ShipmentResult{Carrier: shipper.CarrierDHL, Label: shipper.Label{Format: shipper.LabelPDF, SignedURL: "https://labels.example/2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			}))
			defer srv.Close()

			client := shipping.New(shipping.Config{BaseURL: srv.URL}, nopLogger())
			result, err := client.CreateShipment(context.Background(), &shipper.ShipmentRequest{Carrier: shipper.CarrierDHL, SelectedServiceCode: "P"})

			assert.Nil(t, result)
			var pErr *shipping.PurchaseError
			require.True(t, errors.As(err, &pErr))
			assert.Equal(t, shipping.PurchaseAmbiguous, pErr.Kind)
			assert.Equal(t, http.StatusOK, pErr.StatusCode)
			assert.True(t, shipping.IsAmbiguous(err))
		})
	}
}

func TestClient_CreateShipment_ConnectionRefusedIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := shipping.New(shipping.Config{BaseURL: url}, nopLogger())
	_, err := client.CreateShipment(context.Background(), &shipper.ShipmentRequest{Carrier: shipper.CarrierDHL, SelectedServiceCode: "P"})

	var pErr *shipping.PurchaseError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, shipping.PurchaseUnknown, pErr.Kind)
}

func TestClient_Track_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UPS", r.URL.Query().Get("carrier"))
		assert.Equal(t, "1Z999AA10123456784", r.URL.Query().Get("tracking"))
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, shipper.TrackingStatus{Carrier: shipper.CarrierUPS, TrackingNumber: "1Z999AA10123456784", Status: shipper.TrackingInTransit})
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{
		BaseURL:      srv.URL,
		TrackBackoff: time.Millisecond,
		Breaker:      shipping.BreakerConfig{Name: "track-test", MinRequests: 100, FailureRatio: 1},
	}, nopLogger())

	status, err := client.Track(context.Background(), shipper.CarrierUPS, "1Z999AA10123456784")

	require.NoError(t, err)
	assert.Equal(t, shipper.TrackingInTransit, status.Status)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_Track_IsIdempotentRead(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, shipper.TrackingStatus{Carrier: shipper.CarrierUPS, TrackingNumber: "1Z999AA10123456784", Status: shipper.TrackingDelivered})
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{BaseURL: srv.URL}, nopLogger())

	first, err := client.Track(context.Background(), shipper.CarrierUPS, "1Z999AA10123456784")
	require.NoError(t, err)
	second, err := client.Track(context.Background(), shipper.CarrierUPS, "1Z999AA10123456784")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_Track_DoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": map[string]string{"code": "TRACKING_NOT_FOUND", "message": "unknown"}})
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{BaseURL: srv.URL, TrackBackoff: time.Millisecond}, nopLogger())
	_, err := client.Track(context.Background(), shipper.CarrierDHL, "0000")

	assert.True(t, errors.Is(err, shipping.ErrTrackFailed))
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_BreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	var transitions atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := shipping.New(shipping.Config{
		BaseURL: srv.URL,
		Breaker: shipping.BreakerConfig{
			Name:         "open-test",
			Timeout:      time.Minute,
			FailureRatio: 0.5,
			MinRequests:  2,
			OnStateChange: func(name string, from, to gobreaker.State) {
				transitions.Add(1)
			},
		},
	}, nopLogger())

	for i := 0; i < 2; i++ {
		_, err := client.GetRates(context.Background(), shipper.CarrierUPS, tampa(), houston(), bucket())
		require.Error(t, err)
	}
	_, err := client.GetRates(context.Background(), shipper.CarrierUPS, tampa(), houston(), bucket())

	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.True(t, errors.Is(err, shipping.ErrRateFetchFailed))
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())
	assert.Equal(t, int32(1), transitions.Load())
}

package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/americaniron/ironfreight/internal/catalog"
	"github.com/americaniron/ironfreight/internal/labels"
	"github.com/americaniron/ironfreight/internal/server"
	"github.com/americaniron/ironfreight/internal/telemetry"
	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/americaniron/ironfreight/pkg/shipper/mock"
	"github.com/americaniron/ironfreight/pkg/shipping"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret"
	testIssuer = "ironfreight"
)

func newTestServer(t *testing.T, cfg server.Config, carriers ...shipper.Shipper) *server.Server {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	registry := shipper.NewRegistry()
	for _, c := range carriers {
		registry.Register(c)
	}

	store, err := catalog.Open(context.Background(), catalog.NewMemoryKV(), catalog.Seed(), logger)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = testSecret
	}
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = testIssuer
	}

	s := server.New(cfg, server.Deps{
		Registry: registry,
		Labels:   labels.NewService(labels.NewMemoryStore(), labels.NewSigner(testSecret, 15*time.Minute, ""), logger),
		Catalog:  store,
		Metrics:  telemetry.NewMetrics(reg),
		Gatherer: reg,
		Logger:   logger,
	})
	t.Cleanup(s.Close)
	return s
}

func defaultServer(t *testing.T) *server.Server {
	return newTestServer(t, server.Config{RateLimitRPS: 1000, RateLimitBurst: 1000},
		mock.New(shipper.CarrierUPS), mock.New(shipper.CarrierDHL))
}

func token(t *testing.T, secret, role string) string {
	t.Helper()
	id := shipping.NewSessionIdentity(secret, testIssuer, time.Hour)
	id.SignIn("user-7", "ops@americaniron.test", role)
	tok, err := id.Token(context.Background())
	require.NoError(t, err)
	return tok
}

func serve(s *server.Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func shipmentBody() string {
	req := shipper.ShipmentRequest{
		Carrier:             shipper.CarrierDHL,
		SelectedServiceCode: "DHL_GROUND",
		Shipper:             shipper.Address{Name: "American Iron", Address1: "1 Yard Rd", City: "Tampa", State: "FL", PostalCode: "33618", CountryCode: "US"},
		Recipient:           shipper.Address{Name: "Site 4", Address1: "9 Quarry Ln", City: "Houston", State: "TX", PostalCode: "77001", CountryCode: "US"},
		Packages: []shipper.Package{{
			Weight:        shipper.Weight{Value: 120, Unit: shipper.WeightKG},
			Dimensions:    shipper.Dimensions{Length: 80, Width: 60, Height: 40, Unit: shipper.DimensionCM},
			DeclaredValue: shipper.Money{Amount: 900, Currency: "USD"},
		}},
	}
	b, _ := json.Marshal(req)
	return string(b)
}

func TestServer_Health(t *testing.T) {
	s := defaultServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_Ready(t *testing.T) {
	s := defaultServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, "ok", body.Checks["labels"])
	assert.Equal(t, "2 registered", body.Checks["carriers"])
}

func TestServer_NotReadyWithoutCarriers(t *testing.T) {
	s := newTestServer(t, server.Config{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "none registered")
}

func TestServer_RequestID(t *testing.T) {
	s := defaultServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get(server.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(server.RequestIDHeader, "req-123")
	rec = serve(s, req)
	assert.Equal(t, "req-123", rec.Header().Get(server.RequestIDHeader))
}

func TestServer_Metrics(t *testing.T) {
	s := defaultServer(t)

	serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ironfreight_http_requests_total{code="200",method="GET",route="/health"} 1`)
}

func TestServer_AnonymousMayPriceButNotPurchase(t *testing.T) {
	s := defaultServer(t)

	rates := httptest.NewRequest(http.MethodPost, "/api/shipping/rates",
		strings.NewReader(strings.Replace(shipmentBody(), `"carrier":"DHL"`, `"carrier":"AUTO"`, 1)))
	rec := serve(s, rates)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	buy := httptest.NewRequest(http.MethodPost, "/api/shipping/create-shipment", strings.NewReader(shipmentBody()))
	rec = serve(s, buy)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_BearerAuth(t *testing.T) {
	s := defaultServer(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token(t, testSecret, "buyer"), http.StatusOK},
		{"wrong secret", "Bearer " + token(t, "other-secret", "buyer"), http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/shipping/create-shipment", strings.NewReader(shipmentBody()))
			req.Header.Set("Authorization", tt.header)
			rec := serve(s, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_LabelTokenIsNotABearer(t *testing.T) {
	logger := otelzap.New(zap.NewNop())
	registry := shipper.NewRegistry()
	registry.Register(mock.New(shipper.CarrierDHL))
	store, err := catalog.Open(context.Background(), catalog.NewMemoryKV(), catalog.Seed(), logger)
	require.NoError(t, err)

	// No issuer pinned and the label signer sharing the session secret.
	signer := labels.NewSigner(testSecret, 15*time.Minute, "")
	reg := prometheus.NewRegistry()
	s := server.New(server.Config{JWTSecret: testSecret, RateLimitRPS: 1000, RateLimitBurst: 1000}, server.Deps{
		Registry: registry,
		Labels:   labels.NewService(labels.NewMemoryStore(), signer, logger),
		Catalog:  store,
		Metrics:  telemetry.NewMetrics(reg),
		Gatherer: reg,
		Logger:   logger,
	})
	t.Cleanup(s.Close)

	link, _, err := signer.Sign("lbl-1")
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	labelToken := u.Query().Get("token")
	require.NotEmpty(t, labelToken)

	req := httptest.NewRequest(http.MethodPost, "/api/shipping/create-shipment", strings.NewReader(shipmentBody()))
	req.Header.Set("Authorization", "Bearer "+labelToken)
	rec := serve(s, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/shipping/create-shipment", strings.NewReader(shipmentBody()))
	req.Header.Set("Authorization", "Bearer "+token(t, testSecret, "buyer"))
	rec = serve(s, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServer_CatalogAdminRole(t *testing.T) {
	s := defaultServer(t)

	patch := func(role string) int {
		req := httptest.NewRequest(http.MethodPatch, "/api/catalog/copy", strings.NewReader(`{"homeHeroTitle":"Iron moves here"}`))
		req.Header.Set("Authorization", "Bearer "+token(t, testSecret, role))
		return serve(s, req).Code
	}

	assert.Equal(t, http.StatusForbidden, patch("buyer"))
	assert.Equal(t, http.StatusOK, patch("admin"))
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, server.Config{RateLimitRPS: 1, RateLimitBurst: 2}, mock.New(shipper.CarrierUPS))

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/shipping/track?carrier=UPS&tracking=1Z999", nil)
		req.Header.Set("X-Forwarded-For", ip)
		return serve(s, req)
	}

	assert.Equal(t, http.StatusOK, call("203.0.113.7").Code)
	assert.Equal(t, http.StatusOK, call("203.0.113.7").Code)

	rec := call("203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusOK, call("198.51.100.4").Code)

	health := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health is not rate limited")
}

// The gateway client and the server agree on the wire contract.
func TestServer_GatewayClientRoundTrip(t *testing.T) {
	s := defaultServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	logger := otelzap.New(zap.NewNop())
	identity := shipping.NewSessionIdentity(testSecret, testIssuer, time.Hour)
	client := shipping.New(shipping.Config{BaseURL: ts.URL, Tokens: identity}, logger)
	wf := shipping.NewWorkflow(client, logger)
	ctx := context.Background()

	var req shipper.ShipmentRequest
	require.NoError(t, json.Unmarshal([]byte(shipmentBody()), &req))

	quotes, err := wf.RequestRates(ctx, shipping.RateParams{
		Carrier:   shipper.CarrierAuto,
		Shipper:   req.Shipper,
		Recipient: req.Recipient,
		Packages:  req.Packages,
	})
	require.NoError(t, err)
	require.Len(t, quotes, 4)

	_, err = wf.Select("DHL_EXPRESS")
	require.NoError(t, err)

	// Signed out: the backend refuses and the workflow stays selectable.
	_, err = wf.Purchase(ctx, shipping.PurchaseOptions{OrderID: "ORD-9"})
	var pErr *shipping.PurchaseError
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, shipping.PurchaseCredential, pErr.Kind)
	assert.Equal(t, shipping.StateSelected, wf.Snapshot().State)

	identity.SignIn("user-7", "ops@americaniron.test", "buyer")
	result, err := wf.Purchase(ctx, shipping.PurchaseOptions{OrderID: "ORD-9"})
	require.NoError(t, err)
	assert.Equal(t, shipper.CarrierDHL, result.Carrier)
	assert.Equal(t, "DHL Express", result.ServiceName)
	assert.True(t, strings.Contains(result.Label.SignedURL, "/api/shipping/labels/"))
	assert.Equal(t, shipping.StatePurchased, wf.Snapshot().State)

	status, err := wf.Track(ctx, result.Carrier, result.TrackingNumber)
	require.NoError(t, err)
	assert.Equal(t, result.TrackingNumber, status.TrackingNumber)
}

// Package shipping is the client side of the carrier backend: a gateway
// client for the HTTP contract and the quote selection workflow built on it.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/americaniron/ironfreight/pkg/shipper"
	"github.com/sony/gobreaker/v2"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// FallbackBaseURL is used when no backend base URL is configured. It does
// not serve a live backend.
const FallbackBaseURL = "https://mock-shipping-api.example.com"

// Config holds gateway client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Tokens     TokenProvider
	HTTPClient *http.Client

	// TrackAttempts bounds Track retries on transport and 5xx failures.
	TrackAttempts int
	// TrackBackoff is the first retry delay; it doubles per attempt.
	TrackBackoff time.Duration

	Breaker BreakerConfig
}

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32

	// OnStateChange, if set, is called after the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns the breaker settings used when none are given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "carrier-backend",
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Client talks to the carrier backend's /api/shipping endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     *otelzap.Logger

	trackAttempts int
	trackBackoff  time.Duration
}

// New creates a gateway client. It never fails: a missing base URL falls
// back to FallbackBaseURL with a warning.
func New(cfg Config, logger *otelzap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = FallbackBaseURL
		logger.Warn("shipping backend base URL is not configured; using fallback, shipping will not reach a live backend",
			zap.String("base_url", FallbackBaseURL),
		)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NoSession{}
	}

	attempts := cfg.TrackAttempts
	if attempts <= 0 {
		attempts = 4
	}
	backoff := cfg.TrackBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	bc := cfg.Breaker
	if bc.Name == "" {
		bc = DefaultBreakerConfig()
		bc.OnStateChange = cfg.Breaker.OnStateChange
	}

	return &Client{
		baseURL:       baseURL,
		httpClient:    httpClient,
		tokens:        tokens,
		breaker:       newBreaker(bc, logger),
		logger:        logger,
		trackAttempts: attempts,
		trackBackoff:  backoff,
	}
}

func newBreaker(bc BreakerConfig, logger *otelzap.Logger) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        bc.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	})
}

// BaseURL returns the effective backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type ratesBody struct {
	Carrier   shipper.Carrier   `json:"carrier"`
	Shipper   shipper.Address   `json:"shipper"`
	Recipient shipper.Address   `json:"recipient"`
	Packages  []shipper.Package `json:"packages"`
}

type ratesResponse struct {
	Quotes []shipper.Quote `json:"quotes"`
}

// GetRates requests quotes for a shipment. It does not validate its inputs
// and returns quotes in the backend's order. Any failure wraps
// ErrRateFetchFailed.
func (c *Client) GetRates(ctx context.Context, carrier shipper.Carrier, from, to shipper.Address, packages []shipper.Package) ([]shipper.Quote, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/shipping/rates", ratesBody{
		Carrier:   carrier,
		Shipper:   from,
		Recipient: to,
		Packages:  packages,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("rate request failed", zap.String("carrier", string(carrier)), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRateFetchFailed, err)
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		apiErr := readAPIError(resp)
		c.logger.Ctx(ctx).Error("rate request rejected", zap.String("carrier", string(carrier)), zap.Error(apiErr))
		return nil, fmt.Errorf("%w: %w", ErrRateFetchFailed, apiErr)
	}

	var body ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrRateFetchFailed, err)
	}
	if body.Quotes == nil {
		body.Quotes = []shipper.Quote{}
	}
	return body.Quotes, nil
}

// CreateShipment purchases a label. It is never retried: each call may be
// billable. Failures are returned as *PurchaseError.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.ShipmentResult, error) {
	c.logger.Ctx(ctx).Info("creating shipment",
		zap.String("carrier", string(req.Carrier)),
		zap.String("service_code", req.SelectedServiceCode),
		zap.String("order_id", req.OrderID()),
	)

	resp, err := c.send(ctx, http.MethodPost, "/api/shipping/create-shipment", req)
	if err != nil {
		pErr := classifyTransport(err)
		c.logger.Ctx(ctx).Error("create shipment failed", zap.Stringer("kind", pErr.Kind), zap.Error(err))
		return nil, pErr
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		apiErr := readAPIError(resp)
		pErr := &PurchaseError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Fields:     apiErr.Fields,
			Cause:      apiErr,
		}
		c.logger.Ctx(ctx).Error("create shipment rejected", zap.Stringer("kind", pErr.Kind), zap.Error(apiErr))
		return nil, pErr
	}

	var result shipper.ShipmentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		// The backend reported success but the body is unreadable.
		return nil, &PurchaseError{Kind: PurchaseAmbiguous, StatusCode: resp.StatusCode, Message: "unreadable purchase response", Cause: err}
	}
	if result.TrackingNumber == "" || result.Label.SignedURL == "" {
		c.logger.Ctx(ctx).Error("create shipment response incomplete",
			zap.Int("status", resp.StatusCode),
			zap.String("tracking_number", result.TrackingNumber),
			zap.Bool("label", result.Label.SignedURL != ""),
		)
		return nil, &PurchaseError{Kind: PurchaseAmbiguous, StatusCode: resp.StatusCode, Message: "incomplete purchase response"}
	}
	return &result, nil
}

func successful(status int) bool {
	return status >= 200 && status < 300
}

// Track fetches tracking status, retrying transport and 5xx failures with
// exponential backoff.
func (c *Client) Track(ctx context.Context, carrier shipper.Carrier, trackingNumber string) (*shipper.TrackingStatus, error) {
	q := url.Values{}
	q.Set("carrier", string(carrier))
	q.Set("tracking", trackingNumber)
	path := "/api/shipping/track?" + q.Encode()

	backoff := c.trackBackoff
	var lastErr error
	for attempt := 1; attempt <= c.trackAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := c.trackOnce(ctx, path)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.trackAttempts {
			break
		}

		c.logger.Ctx(ctx).Warn("tracking lookup failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %w", ErrTrackFailed, lastErr)
}

func (c *Client) trackOnce(ctx context.Context, path string) (*shipper.TrackingStatus, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var status shipper.TrackingStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode tracking response: %w", err)
	}
	return &status, nil
}

// serverError is how a 5xx response leaves the breaker so it counts as a failure.
type serverError struct {
	resp *http.Response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error %d", e.resp.StatusCode)
}

// send performs one request through the circuit breaker. 5xx responses are
// returned as a normal response after being counted as breaker failures.
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(ctx, req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &serverError{resp: resp}
		}
		return resp, nil
	})

	var sErr *serverError
	if errors.As(err, &sErr) {
		return sErr.resp, nil
	}
	return resp, err
}

// authorize attaches the bearer token when the provider yields one.
func (c *Client) authorize(ctx context.Context, req *http.Request) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotSignedIn) {
			c.logger.Ctx(ctx).Warn("token injection skipped", zap.Error(err))
		}
		return
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func readAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && (env.Error.Code != "" || env.Error.Message != "") {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Fields = env.Error.Fields
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// classifyTransport decides whether a transport failure could have reached
// the backend.
func classifyTransport(err error) *PurchaseError {
	pErr := &PurchaseError{Kind: PurchaseAmbiguous, Cause: err}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		pErr.Kind = PurchaseUnknown
		pErr.Message = "carrier backend unavailable"
		return pErr
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		pErr.Kind = PurchaseUnknown
		pErr.Message = "could not connect to carrier backend"
		return pErr
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		pErr.Kind = PurchaseUnknown
		pErr.Message = "could not resolve carrier backend"
	}
	return pErr
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

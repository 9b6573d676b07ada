package ups

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// tokenSkew renews the OAuth token this long before UPS says it expires.
const tokenSkew = time.Minute

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://onlinetools.ups.com"
	}

	return &HTTPAPIClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetRates shops every UPS service for the shipment.
// POST /api/rating/v2403/Shop
func (c *HTTPAPIClient) GetRates(ctx context.Context, req *RateRequestEnvelope) (*RateResponseEnvelope, error) {
	var result RateResponseEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/api/rating/v2403/Shop", req, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateShipment buys a label.
// POST /api/shipments/v2403/ship
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequestEnvelope) (*ShipmentResponseEnvelope, error) {
	var result ShipmentResponseEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/api/shipments/v2403/ship", req, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTracking retrieves tracking details.
// GET /api/track/v1/details/{inquiryNumber}
func (c *HTTPAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackResponseEnvelope, error) {
	var result TrackResponseEnvelope
	path := "/api/track/v1/details/" + url.PathEscape(trackingNumber)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// token returns a cached OAuth access token, fetching a new one when the
// cached token is missing or about to expire.
func (c *HTTPAPIClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt.Add(-tokenSkew)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/security/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.parseError(resp)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	ttl, err := strconv.Atoi(tok.ExpiresIn)
	if err != nil || ttl <= 0 {
		ttl = 3600
	}
	c.accessToken = tok.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(ttl) * time.Second)
	return c.accessToken, nil
}

// doJSON performs an authenticated request and decodes the response into out.
func (c *HTTPAPIClient) doJSON(ctx context.Context, method, path string, body, out interface{}, okStatus int) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("transId", uuid.NewString())
	req.Header.Set("transactionSrc", "ironfreight")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.accessToken = ""
		c.mu.Unlock()
	}
	if resp.StatusCode != okStatus {
		return c.parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Response.Errors) > 0 {
		first := envelope.Response.Errors[0]
		return &APIError{StatusCode: resp.StatusCode, Code: first.Code, Message: first.Message}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Message:    strings.TrimSpace(string(body)),
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)

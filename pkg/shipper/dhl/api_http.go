package dhl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL  string
	Username string // MyDHL API key
	Password string // MyDHL API secret
	Timeout  time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://express.api.dhl.com/mydhlapi"
	}

	return &HTTPAPIClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetRates fetches product offers.
func (c *HTTPAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	var result RatesResponse
	if err := c.doJSON(ctx, http.MethodPost, "/rates", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateShipment books a shipment.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error) {
	var result ShipmentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/shipments", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTracking retrieves all checkpoints for a waybill.
func (c *HTTPAPIClient) GetTracking(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	var result TrackingResponse
	path := "/shipments/" + url.PathEscape(trackingNumber) + "/tracking?trackingView=all-checkpoints"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ============================================================================
// HTTP Helpers
// ============================================================================

func (c *HTTPAPIClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
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

	// MyDHL uses Basic Auth with API key:secret
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Message-Reference", uuid.NewString())
	req.Header.Set("Message-Reference-Date", time.Now().UTC().Format(http.TimeFormat))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Title != "" || apiErr.Detail != "") {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Title:      fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Detail:     strings.TrimSpace(string(body)),
	}
}

var _ APIClient = (*HTTPAPIClient)(nil)

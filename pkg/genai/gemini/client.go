package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/americaniron/ironfreight/pkg/genai"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public Gemini REST endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// notFoundMarker is the message the API returns when the selected key cannot
// see the requested model.
const notFoundMarker = "Requested entity was not found"

// Config holds provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client implements genai.Provider and genai.CredentialChecker.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *otelzap.Logger
}

var (
	_ genai.Provider          = (*Client)(nil)
	_ genai.CredentialChecker = (*Client)(nil)
)

// New creates a Gemini provider.
func New(cfg Config, logger *otelzap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential(ctx context.Context) (bool, error) {
	return c.apiKey != "", nil
}

// GenerateText runs a single-turn generation.
func (c *Client) GenerateText(ctx context.Context, req genai.TextRequest) (string, error) {
	body := GenerateContentRequest{
		Contents:          []Content{{Role: "user", Parts: []Part{{Text: req.Prompt}}}},
		SystemInstruction: systemInstruction(req.System),
	}
	if req.ThinkingBudget > 0 {
		body.GenerationConfig = &GenerationConfig{ThinkingConfig: &ThinkingConfig{ThinkingBudget: req.ThinkingBudget}}
	}

	resp, err := c.generate(ctx, req.Model, &body)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GenerateImage renders an image from a prompt.
func (c *Client) GenerateImage(ctx context.Context, req genai.ImageRequest) (*genai.Image, error) {
	body := GenerateContentRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: req.Prompt}}}},
		GenerationConfig: &GenerationConfig{
			ImageConfig: &ImageConfig{AspectRatio: req.AspectRatio, ImageSize: req.Size},
		},
	}
	resp, err := c.generate(ctx, req.Model, &body)
	if err != nil {
		return nil, err
	}
	return imageFromResponse(resp)
}

// EditImage sends the source image with an instruction.
func (c *Client) EditImage(ctx context.Context, req genai.EditRequest) (*genai.Image, error) {
	body := GenerateContentRequest{
		Contents: []Content{{Role: "user", Parts: []Part{
			{InlineData: &InlineData{MIMEType: req.Source.MIMEType, Data: base64.StdEncoding.EncodeToString(req.Source.Data)}},
			{Text: req.Instruction},
		}}},
		GenerationConfig: &GenerationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}
	resp, err := c.generate(ctx, req.Model, &body)
	if err != nil {
		return nil, err
	}
	return imageFromResponse(resp)
}

// StartVideo submits a long-running video generation.
// POST /models/{model}:predictLongRunning
func (c *Client) StartVideo(ctx context.Context, req genai.VideoRequest) (genai.Operation, error) {
	body := PredictRequest{
		Instances: []VideoInstance{{
			Prompt: req.Prompt,
			Image: &VideoImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Source.Data),
				MIMEType:           req.Source.MIMEType,
			},
		}},
		Parameters: VideoParameters{AspectRatio: req.AspectRatio},
	}
	var op OperationResponse
	if err := c.doJSON(ctx, http.MethodPost, "/models/"+req.Model+":predictLongRunning", &body, &op); err != nil {
		return genai.Operation{}, err
	}
	return genai.Operation{Name: op.Name}, nil
}

// PollVideo reads the state of a video operation.
// GET /{operation name}
func (c *Client) PollVideo(ctx context.Context, op genai.Operation) (*genai.OperationStatus, error) {
	var resp OperationResponse
	if err := c.doJSON(ctx, http.MethodGet, "/"+strings.TrimLeft(op.Name, "/"), nil, &resp); err != nil {
		return nil, err
	}

	st := &genai.OperationStatus{Done: resp.Done}
	if resp.Error != nil {
		st.Done = true
		st.Error = resp.Error.Message
	}
	if resp.Response != nil {
		if s := resp.Response.GenerateVideoResponse.GeneratedSamples; len(s) > 0 {
			st.VideoURI = s[0].Video.URI
		}
	}
	return st, nil
}

// DownloadVideo fetches the generated file. The API key is sent as a header
// rather than appended to the URI.
func (c *Client) DownloadVideo(ctx context.Context, uri string) (*genai.Video, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read video: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "video/mp4"
	}
	return &genai.Video{MIMEType: mime, Data: data}, nil
}

// Search runs a grounded generation with the web or maps tool.
func (c *Client) Search(ctx context.Context, req genai.SearchRequest) (*genai.Grounded, error) {
	body := GenerateContentRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{Text: req.Query}}}},
	}
	switch req.Tool {
	case genai.SearchMaps:
		body.Tools = []Tool{{GoogleMaps: &struct{}{}}}
		if req.Location != nil {
			body.ToolConfig = &ToolConfig{RetrievalConfig: &RetrievalConfig{
				LatLng: &LatLng{Latitude: req.Location.Latitude, Longitude: req.Location.Longitude},
			}}
		}
	default:
		body.Tools = []Tool{{GoogleSearch: &struct{}{}}}
	}

	resp, err := c.generate(ctx, req.Model, &body)
	if err != nil {
		return nil, err
	}

	out := &genai.Grounded{Text: resp.Text(), Sources: []genai.Source{}}
	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		for _, ch := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
			src := ch.Web
			if src == nil {
				src = ch.Maps
			}
			if src == nil || src.URI == "" {
				continue
			}
			out.Sources = append(out.Sources, genai.Source{Title: src.Title, URI: src.URI})
		}
	}
	return out, nil
}

// Chat sends one message after the given history.
func (c *Client) Chat(ctx context.Context, req genai.ChatRequest) (string, error) {
	contents := make([]Content, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, Content{Role: string(m.Role), Parts: []Part{{Text: m.Text}}})
	}
	contents = append(contents, Content{Role: "user", Parts: []Part{{Text: req.Message}}})

	resp, err := c.generate(ctx, req.Model, &GenerateContentRequest{
		Contents:          contents,
		SystemInstruction: systemInstruction(req.System),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// ============================================================================
// HTTP
// ============================================================================

// generate calls POST /models/{model}:generateContent.
func (c *Client) generate(ctx context.Context, model string, body *GenerateContentRequest) (*GenerateContentResponse, error) {
	var resp GenerateContentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/models/"+model+":generateContent", body, &resp); err != nil {
		c.logger.Ctx(ctx).Debug("gemini request failed", zap.String("model", model), zap.Error(err))
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
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
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseError turns a non-2xx response into an *APIError, wrapped with
// genai.ErrAuthorizationRequired for permission-class failures.
func parseError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var env errorResponse
	if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		apiErr.Status = env.Error.Status
	}

	if isPermissionError(apiErr) {
		return fmt.Errorf("%w: %w", genai.ErrAuthorizationRequired, apiErr)
	}
	return apiErr
}

func isPermissionError(e *APIError) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return strings.Contains(e.Message, notFoundMarker)
}

func systemInstruction(s string) *Content {
	if s == "" {
		return nil
	}
	return &Content{Parts: []Part{{Text: s}}}
}

func imageFromResponse(resp *GenerateContentResponse) (*genai.Image, error) {
	if len(resp.Candidates) == 0 {
		return nil, genai.ErrNoImage
	}
	img := &genai.Image{}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && img.Data == nil {
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to decode image: %w", err)
			}
			img.MIMEType = p.InlineData.MIMEType
			img.Data = data
			continue
		}
		img.Text += p.Text
	}
	if img.Data == nil {
		return nil, genai.ErrNoImage
	}
	return img, nil
}

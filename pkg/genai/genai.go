// Package genai is a capability-oriented façade over a generative AI vendor.
// Text and search operations degrade to fallback strings and never fail;
// media operations return typed errors the caller turns into messages.
package genai

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the vendor boundary. Implementations report permission-class
// failures by wrapping ErrAuthorizationRequired.
type Provider interface {
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	GenerateImage(ctx context.Context, req ImageRequest) (*Image, error)
	EditImage(ctx context.Context, req EditRequest) (*Image, error)
	StartVideo(ctx context.Context, req VideoRequest) (Operation, error)
	PollVideo(ctx context.Context, op Operation) (*OperationStatus, error)
	DownloadVideo(ctx context.Context, uri string) (*Video, error)
	Search(ctx context.Context, req SearchRequest) (*Grounded, error)
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// CredentialChecker is the pre-flight for operations that need a paid
// credential. It reports whether a usable credential is selected.
type CredentialChecker interface {
	HasCredential(ctx context.Context) (bool, error)
}

// Reauthorizer runs the interactive credential selection flow.
type Reauthorizer interface {
	Reauthorize(ctx context.Context) error
}

// Locator supplies the caller's position for local search.
type Locator interface {
	Locate(ctx context.Context) (LatLng, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (LatLng, error)

// Locate calls f.
func (f LocatorFunc) Locate(ctx context.Context) (LatLng, error) {
	return f(ctx)
}

var (
	// ErrAuthorizationRequired means the caller must select or refresh a
	// credential before retrying.
	ErrAuthorizationRequired = errors.New("authorization required")

	// ErrPollLimit is returned when a long-running operation does not finish
	// within the configured number of polls.
	ErrPollLimit = errors.New("operation did not complete within poll limit")

	// ErrNoImage is returned when the provider answered without image data.
	ErrNoImage = errors.New("no image in response")
)

// ProviderPanic is returned when a provider call panicked.
type ProviderPanic struct {
	Value interface{}
}

func (p *ProviderPanic) Error() string {
	return fmt.Sprintf("provider panic: %v", p.Value)
}

// TextRequest is a single-turn text generation.
type TextRequest struct {
	Model          string
	Prompt         string
	System         string
	ThinkingBudget int
}

// ImageRequest generates an image from a prompt.
type ImageRequest struct {
	Model       string
	Prompt      string
	AspectRatio string // "1:1", "16:9", ...
	Size        string // "1K", "2K", "4K"
}

// EditRequest modifies an existing image.
type EditRequest struct {
	Model       string
	Source      Image
	Instruction string
}

// VideoRequest animates a still image.
type VideoRequest struct {
	Model       string
	Source      Image
	Prompt      string
	AspectRatio string
}

// Image is raw image bytes plus any text the model returned alongside.
type Image struct {
	MIMEType string
	Data     []byte
	Text     string
}

// Video is raw video bytes.
type Video struct {
	MIMEType string
	Data     []byte
}

// Operation identifies a long-running provider job.
type Operation struct {
	Name string
}

// OperationStatus is the result of one poll.
type OperationStatus struct {
	Done     bool
	VideoURI string
	Error    string
}

// SearchTool selects the grounding backend.
type SearchTool int

const (
	SearchWeb SearchTool = iota
	SearchMaps
)

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64
	Longitude float64
}

// SearchRequest is a grounded generation request.
type SearchRequest struct {
	Model    string
	Query    string
	Tool     SearchTool
	Location *LatLng
}

// Source is a citation.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Grounded is prose plus the sources it cites.
type Grounded struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Role of a chat message author.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one chat turn.
type Message struct {
	Role Role
	Text string
}

// ChatRequest sends Message after History.
type ChatRequest struct {
	Model   string
	System  string
	History []Message
	Message string
}

// UserMessage maps a media operation error to a user-facing string.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthorizationRequired):
		return "Select an API key with access to this model, then try again."
	case errors.Is(err, ErrPollLimit):
		return "Video generation is taking longer than expected. Please try again later."
	case errors.Is(err, context.Canceled):
		return "Generation cancelled."
	default:
		return "Generation failed. Ensure a valid paid API key is selected."
	}
}

// Reauthorize runs fn; if it fails with ErrAuthorizationRequired it runs the
// re-authorization flow once and retries fn.
func Reauthorize[T any](ctx context.Context, r Reauthorizer, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !errors.Is(err, ErrAuthorizationRequired) || r == nil {
		return v, err
	}
	if rerr := r.Reauthorize(ctx); rerr != nil {
		var zero T
		return zero, fmt.Errorf("reauthorize: %w", rerr)
	}
	return fn(ctx)
}

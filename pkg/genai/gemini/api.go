// Package gemini implements genai.Provider against the Gemini REST API.
package gemini

import "fmt"

// ============================================================================
// generateContent
// ============================================================================

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type ThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type GenerationConfig struct {
	ThinkingConfig     *ThinkingConfig `json:"thinkingConfig,omitempty"`
	ImageConfig        *ImageConfig    `json:"imageConfig,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
}

type Tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
	GoogleMaps   *struct{} `json:"googleMaps,omitempty"`
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type RetrievalConfig struct {
	LatLng *LatLng `json:"latLng,omitempty"`
}

type ToolConfig struct {
	RetrievalConfig *RetrievalConfig `json:"retrievalConfig,omitempty"`
}

type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
}

type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type GroundingChunk struct {
	Web  *GroundingSource `json:"web,omitempty"`
	Maps *GroundingSource `json:"maps,omitempty"`
}

type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks"`
}

type Candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Text concatenates the text parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var s string
	for _, p := range r.Candidates[0].Content.Parts {
		s += p.Text
	}
	return s
}

// ============================================================================
// predictLongRunning
// ============================================================================

type VideoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MIMEType           string `json:"mimeType"`
}

type VideoInstance struct {
	Prompt string      `json:"prompt,omitempty"`
	Image  *VideoImage `json:"image,omitempty"`
}

type VideoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type PredictRequest struct {
	Instances  []VideoInstance `json:"instances"`
	Parameters VideoParameters `json:"parameters"`
}

type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type GeneratedSample struct {
	Video struct {
		URI string `json:"uri"`
	} `json:"video"`
}

type OperationResponse struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Error    *OperationError `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []GeneratedSample `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

// ============================================================================
// Errors
// ============================================================================

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// APIError is a non-2xx response from the Gemini API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

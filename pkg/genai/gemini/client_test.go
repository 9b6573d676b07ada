package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/americaniron/ironfreight/pkg/genai"
	"github.com/americaniron/ironfreight/pkg/genai/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func newClient(t *testing.T, h http.HandlerFunc) *gemini.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return gemini.New(gemini.Config{APIKey: "test-key", BaseURL: srv.URL}, otelzap.New(zap.NewNop()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func textResponse(s string) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{"content": map[string]interface{}{"parts": []interface{}{map[string]interface{}{"text": s}}}},
		},
	}
}

func TestGenerateTextThinkingBudget(t *testing.T) {
	var got gemini.GenerateContentRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-3-pro-preview:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, textResponse("Roadmap"))
	})

	text, err := c.GenerateText(context.Background(), genai.TextRequest{
		Model:          "gemini-3-pro-preview",
		Prompt:         "analyze",
		ThinkingBudget: 32768,
	})
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", text)
	require.NotNil(t, got.GenerationConfig)
	assert.Equal(t, 32768, got.GenerationConfig.ThinkingConfig.ThinkingBudget)
	assert.Nil(t, got.SystemInstruction)
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	var got gemini.GenerateContentRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"candidates": []interface{}{map[string]interface{}{"content": map[string]interface{}{"parts": []interface{}{
				map[string]interface{}{"text": "Here is your image."},
				map[string]interface{}{"inlineData": map[string]interface{}{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString(png)}},
			}}}},
		})
	})

	img, err := c.GenerateImage(context.Background(), genai.ImageRequest{Model: "img", Prompt: "dozer", AspectRatio: "16:9", Size: "1K"})
	require.NoError(t, err)
	assert.Equal(t, png, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, "Here is your image.", img.Text)
	assert.Equal(t, "16:9", got.GenerationConfig.ImageConfig.AspectRatio)
	assert.Equal(t, "1K", got.GenerationConfig.ImageConfig.ImageSize)
}

func TestGenerateImageTextOnly(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, textResponse("I can't draw that."))
	})

	_, err := c.GenerateImage(context.Background(), genai.ImageRequest{Model: "img", Prompt: "x"})
	assert.ErrorIs(t, err, genai.ErrNoImage)
}

func TestSearchMapsWithLocation(t *testing.T) {
	var got gemini.GenerateContentRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"candidates": []interface{}{map[string]interface{}{
				"content": map[string]interface{}{"parts": []interface{}{map[string]interface{}{"text": "Ring Power"}}},
				"groundingMetadata": map[string]interface{}{"groundingChunks": []interface{}{
					map[string]interface{}{"maps": map[string]interface{}{"uri": "https://maps.example.com/1", "title": "Ring Power Tampa"}},
					map[string]interface{}{"web": map[string]interface{}{"uri": ""}},
				}},
			}},
		})
	})

	res, err := c.Search(context.Background(), genai.SearchRequest{
		Model:    "gemini-2.5-flash",
		Query:    "service centers",
		Tool:     genai.SearchMaps,
		Location: &genai.LatLng{Latitude: 27.9, Longitude: -82.4},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ring Power", res.Text)
	assert.Equal(t, []genai.Source{{Title: "Ring Power Tampa", URI: "https://maps.example.com/1"}}, res.Sources)

	require.Len(t, got.Tools, 1)
	assert.NotNil(t, got.Tools[0].GoogleMaps)
	assert.Nil(t, got.Tools[0].GoogleSearch)
	assert.InDelta(t, 27.9, got.ToolConfig.RetrievalConfig.LatLng.Latitude, 1e-9)
}

func TestSearchWeb(t *testing.T) {
	var got gemini.GenerateContentRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, textResponse("Market is up."))
	})

	res, err := c.Search(context.Background(), genai.SearchRequest{Model: "m", Query: "q", Tool: genai.SearchWeb})
	require.NoError(t, err)
	assert.Equal(t, "Market is up.", res.Text)
	assert.NotNil(t, res.Sources)
	assert.NotNil(t, got.Tools[0].GoogleSearch)
	assert.Nil(t, got.ToolConfig)
}

func TestChatSendsHistory(t *testing.T) {
	var got gemini.GenerateContentRequest
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, textResponse("Yes."))
	})

	reply, err := c.Chat(context.Background(), genai.ChatRequest{
		Model:  "m",
		System: "be brief",
		History: []genai.Message{
			{Role: genai.RoleUser, Text: "hi"},
			{Role: genai.RoleModel, Text: "hello"},
		},
		Message: "in stock?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Yes.", reply)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "in stock?", got.Contents[2].Parts[0].Text)
	assert.Equal(t, "be brief", got.SystemInstruction.Parts[0].Text)
}

func TestVideoLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	polls := 0
	var base string
	mux.HandleFunc("/models/veo:predictLongRunning", func(w http.ResponseWriter, r *http.Request) {
		var req gemini.PredictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "16:9", req.Parameters.AspectRatio)
		writeJSON(w, http.StatusOK, map[string]interface{}{"name": "operations/abc"})
	})
	mux.HandleFunc("/operations/abc", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			writeJSON(w, http.StatusOK, map[string]interface{}{"name": "operations/abc"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name": "operations/abc",
			"done": true,
			"response": map[string]interface{}{"generateVideoResponse": map[string]interface{}{
				"generatedSamples": []interface{}{map[string]interface{}{"video": map[string]interface{}{"uri": base + "/files/v.mp4"}}},
			}},
		})
	})
	mux.HandleFunc("/files/v.mp4", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4data"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	c := gemini.New(gemini.Config{APIKey: "test-key", BaseURL: srv.URL}, otelzap.New(zap.NewNop()))
	ctx := context.Background()

	op, err := c.StartVideo(ctx, genai.VideoRequest{Model: "veo", Source: genai.Image{MIMEType: "image/png", Data: []byte{1}}, AspectRatio: "16:9"})
	require.NoError(t, err)
	assert.Equal(t, "operations/abc", op.Name)

	st, err := c.PollVideo(ctx, op)
	require.NoError(t, err)
	assert.False(t, st.Done)

	st, err = c.PollVideo(ctx, op)
	require.NoError(t, err)
	require.True(t, st.Done)

	v, err := c.DownloadVideo(ctx, st.VideoURI)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4data"), v.Data)
}

func TestPollVideoOperationError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":  "operations/x",
			"error": map[string]interface{}{"code": 3, "message": "blocked by safety filter"},
		})
	})

	st, err := c.PollVideo(context.Background(), genai.Operation{Name: "operations/x"})
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Equal(t, "blocked by safety filter", st.Error)
}

func TestPermissionErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		msg    string
		auth   bool
	}{
		{"forbidden", http.StatusForbidden, "API key not valid", true},
		{"unauthorized", http.StatusUnauthorized, "missing key", true},
		{"model not visible", http.StatusNotFound, "Requested entity was not found.", true},
		{"quota", http.StatusTooManyRequests, "Resource has been exhausted", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]interface{}{
					"error": map[string]interface{}{"code": tt.status, "message": tt.msg, "status": "ERR"},
				})
			})

			_, err := c.GenerateText(context.Background(), genai.TextRequest{Model: "m", Prompt: "p"})
			require.Error(t, err)
			assert.Equal(t, tt.auth, errors.Is(err, genai.ErrAuthorizationRequired))

			var apiErr *gemini.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.msg, apiErr.Message)
		})
	}
}

func TestHasCredential(t *testing.T) {
	ok, err := gemini.New(gemini.Config{}, otelzap.New(zap.NewNop())).HasCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = gemini.New(gemini.Config{APIKey: "k"}, otelzap.New(zap.NewNop())).HasCredential(context.Background())
	assert.True(t, ok)
}

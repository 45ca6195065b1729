package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
)

const testEndpoint = "https://vision.example.test/v1/messages"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client := NewClient(&conf.Settings{
		Vision: conf.VisionSettings{
			Endpoint: testEndpoint,
			APIKey:   "test-key",
			Model:    "test-model",
		},
	})
	require.NotNil(t, client)
	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyshot.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))
	return path
}

func messagesResponse(text string) httpmock.Responder {
	return httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	})
}

func TestAnalyzeDecodesStructuredAnswer(t *testing.T) {
	client := newTestClient(t)

	answer := `{"is_bird": true, "species": "House Finch", "species_latin": "Haemorhous mexicanus", "confidence": "high", "count": 2, "sex": "male", "behavior": "eating seed"}`
	httpmock.RegisterResponder(http.MethodPost, testEndpoint, messagesResponse(answer))

	result, err := client.Analyze(context.Background(), writeTestImage(t))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsBird)
	assert.Equal(t, "House Finch", result.Species)
	assert.Equal(t, "Haemorhous mexicanus", result.SpeciesLatin)
	assert.Equal(t, "high", result.Confidence)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, answer, result.RawResponse)
}

func TestAnalyzeStripsMarkdownFences(t *testing.T) {
	client := newTestClient(t)

	fenced := "```json\n{\"is_bird\": true, \"species\": \"Blue Jay\", \"confidence\": \"medium\"}\n```"
	httpmock.RegisterResponder(http.MethodPost, testEndpoint, messagesResponse(fenced))

	result, err := client.Analyze(context.Background(), writeTestImage(t))
	require.NoError(t, err)
	assert.Equal(t, "Blue Jay", result.Species)
}

func TestAnalyzeSendsAuthHeadersAndImage(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "test-key", req.Header.Get("x-api-key"))
			assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))

			var payload struct {
				Model    string `json:"model"`
				Messages []struct {
					Content []struct {
						Type   string `json:"type"`
						Source struct {
							Data string `json:"data"`
						} `json:"source"`
					} `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&payload))
			assert.Equal(t, "test-model", payload.Model)
			require.Len(t, payload.Messages, 1)
			require.NotEmpty(t, payload.Messages[0].Content)
			assert.Equal(t, "image", payload.Messages[0].Content[0].Type)
			assert.NotEmpty(t, payload.Messages[0].Content[0].Source.Data)

			return messagesResponse(`{"is_bird": false}`)(req)
		})

	_, err := client.Analyze(context.Background(), writeTestImage(t))
	require.NoError(t, err)
}

func TestAnalyzeServiceErrorStatus(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		httpmock.NewStringResponder(http.StatusTooManyRequests, "rate limited"))

	_, err := client.Analyze(context.Background(), writeTestImage(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryClassification))
}

func TestAnalyzeUnparseableAnswer(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testEndpoint,
		messagesResponse("I see a lovely bird at the feeder."))

	_, err := client.Analyze(context.Background(), writeTestImage(t))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryClassification))
}

func TestAnalyzeMissingImageFile(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Analyze(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
}

func TestNewClientDisabledWithoutCredentials(t *testing.T) {
	assert.Nil(t, NewClient(&conf.Settings{}))
	assert.Nil(t, NewClient(&conf.Settings{Vision: conf.VisionSettings{Endpoint: testEndpoint}}))
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fences", `{"is_bird": true}`, `{"is_bird": true}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.in))
		})
	}
}

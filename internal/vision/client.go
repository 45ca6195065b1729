// Package vision is the client for the external image-understanding
// service. Given a still capture it returns a structured description of the
// animal in frame, including a species guess with a coarse confidence label.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
	"github.com/jpaulin/freebird-go/internal/logging"
)

const requestTimeout = 60 * time.Second

// analysisPrompt asks the model for a strict JSON object so the response
// can be decoded without free-text parsing.
const analysisPrompt = `Analyze this bird feeder camera image. Respond with ONLY a JSON object (no markdown):

{
  "is_bird": true/false,
  "animal_type": "bird" | "squirrel" | "chipmunk" | "cat" | "unknown" | null,
  "species": "Common Name" or null,
  "species_latin": "Scientific name" or null,
  "confidence": "high" | "medium" | "low",
  "count": number of animals visible,
  "sex": "male" | "female" | "unknown" | null,
  "age": "adult" | "juvenile" | "unknown" | null,
  "behavior": brief description of what the animal is doing,
  "notable": any notable observations (unusual markings, weather, multiple species, etc.) or null
}

If no animal is visible (just the feeder/yard), set is_bird to false and animal_type to null.
If you can see an animal but can't identify the species, still describe what you see.`

var logger *slog.Logger

func init() {
	logger = logging.ForService("vision")
}

// Result is the structured output of one image analysis.
type Result struct {
	IsBird       bool   `json:"is_bird"`
	AnimalType   string `json:"animal_type"`
	Species      string `json:"species"`
	SpeciesLatin string `json:"species_latin"`
	Confidence   string `json:"confidence"`
	Count        int    `json:"count"`
	Sex          string `json:"sex"`
	Age          string `json:"age"`
	Behavior     string `json:"behavior"`
	Notable      string `json:"notable"`
	RawResponse  string `json:"-"`
}

// Client calls a messages-style vision API over HTTP.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an image classifier client. Returns nil when no
// endpoint or API key is configured, which disables vision analysis.
func NewClient(settings *conf.Settings) *Client {
	if settings.Vision.Endpoint == "" || settings.Vision.APIKey == "" {
		return nil
	}
	return &Client{
		endpoint:   settings.Vision.Endpoint,
		apiKey:     settings.Vision.APIKey,
		model:      settings.Vision.Model,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Model returns the configured model identifier, for audit records.
func (c *Client) Model() string {
	return c.model
}

// Analyze submits the image and decodes the model's JSON answer.
func (c *Client) Analyze(ctx context.Context, imagePath string) (*Result, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, errors.Newf("reading image: %w", err).
			Component("vision").
			Category(errors.CategoryFileIO).
			Context("path", imagePath).
			Build()
	}

	reqBody, err := json.Marshal(map[string]any{
		"model":      c.model,
		"max_tokens": 300,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": "image",
						"source": map[string]any{
							"type":       "base64",
							"media_type": "image/jpeg",
							"data":       base64.StdEncoding.EncodeToString(imageData),
						},
					},
					{
						"type": "text",
						"text": analysisPrompt,
					},
				},
			},
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, classifyError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Newf("vision request failed: %w", err).
			Component("vision").
			Category(errors.CategoryClassification).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("vision service returned status %d", resp.StatusCode).
			Component("vision").
			Category(errors.CategoryClassification).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &message); err != nil {
		return nil, errors.Newf("decoding vision response: %w", err).
			Component("vision").
			Category(errors.CategoryClassification).
			Build()
	}
	if len(message.Content) == 0 || message.Content[0].Text == "" {
		return nil, errors.Newf("vision response contains no text content").
			Component("vision").
			Category(errors.CategoryClassification).
			Build()
	}

	raw := message.Content[0].Text
	result := &Result{}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), result); err != nil {
		return nil, errors.Newf("parsing vision JSON answer: %w", err).
			Component("vision").
			Category(errors.CategoryClassification).
			Context("raw_length", len(raw)).
			Build()
	}
	result.RawResponse = raw

	switch {
	case result.IsBird && result.Species != "":
		logger.Info("vision identification",
			"species", result.Species,
			"confidence", result.Confidence,
			"behavior", result.Behavior)
	case result.AnimalType != "":
		logger.Info("vision detected animal", "animal_type", result.AnimalType)
	default:
		logger.Debug("vision found no animal")
	}
	return result, nil
}

// stripCodeFences removes a surrounding markdown code block if the model
// ignored the no-markdown instruction.
func stripCodeFences(s string) string {
	text := strings.TrimSpace(s)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[idx+1:]
	} else {
		text = text[3:]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func classifyError(err error) error {
	return errors.New(err).
		Component("vision").
		Category(errors.CategoryClassification).
		Build()
}

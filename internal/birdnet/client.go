// Package birdnet is the client for the external acoustic classifier
// service. The service consumes an audio artifact and returns zero or more
// species predictions with calibrated confidence scores.
package birdnet

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
	"github.com/jpaulin/freebird-go/internal/logging"
)

const requestTimeout = 60 * time.Second

var logger *slog.Logger

func init() {
	logger = logging.ForService("birdnet")
}

// Detection is a single accepted species prediction.
type Detection struct {
	Species      string  // common name
	SpeciesLatin string  // scientific name
	Confidence   float64 // classifier's raw score, 0..1
}

// prediction mirrors one entry of the analyzer's response.
type prediction struct {
	ScientificName string  `json:"scientificName"`
	CommonName     string  `json:"commonName"`
	Confidence     float64 `json:"confidence"`
}

// Client calls the acoustic analyzer over HTTP.
type Client struct {
	endpoint   string
	threshold  float64
	httpClient *http.Client
}

// NewClient creates an acoustic classifier client. Returns nil when no
// endpoint is configured, which disables acoustic analysis.
func NewClient(settings *conf.Settings) *Client {
	if settings.BirdNET.Endpoint == "" {
		return nil
	}
	return &Client{
		endpoint:   settings.BirdNET.Endpoint,
		threshold:  settings.BirdNET.Threshold,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Analyze submits the audio file and returns the highest-confidence
// detection meeting the configured threshold, or nil when nothing
// qualifies.
func (c *Client) Analyze(ctx context.Context, audioPath string) (*Detection, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, errors.Newf("opening audio file: %w", err).
			Component("birdnet").
			Category(errors.CategoryFileIO).
			Context("path", audioPath).
			Build()
	}
	defer func() {
		_ = f.Close()
	}()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, classifyError(err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, classifyError(err)
	}
	if err := writer.Close(); err != nil {
		return nil, classifyError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, classifyError(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Newf("acoustic analyzer request failed: %w", err).
			Component("birdnet").
			Category(errors.CategoryClassification).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("acoustic analyzer returned status %d", resp.StatusCode).
			Component("birdnet").
			Category(errors.CategoryClassification).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var result struct {
		Predictions []prediction `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Newf("decoding analyzer response: %w", err).
			Component("birdnet").
			Category(errors.CategoryClassification).
			Build()
	}

	var best *Detection
	for i := range result.Predictions {
		p := &result.Predictions[i]
		if p.Confidence < c.threshold {
			continue
		}
		if best == nil || p.Confidence > best.Confidence {
			best = &Detection{
				Species:      p.CommonName,
				SpeciesLatin: p.ScientificName,
				Confidence:   p.Confidence,
			}
		}
	}

	if best != nil {
		logger.Info("acoustic detection",
			"species", best.Species,
			"confidence", best.Confidence)
	} else {
		logger.Debug("no confident acoustic detection", "path", filepath.Base(audioPath))
	}
	return best, nil
}

func classifyError(err error) error {
	return errors.New(err).
		Component("birdnet").
		Category(errors.CategoryClassification).
		Build()
}

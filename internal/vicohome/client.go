package vicohome

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
)

const (
	// requestTimeout bounds each API call.
	requestTimeout = 15 * time.Second

	// maxAuthAttempts caps the transparent credential-refresh retry. A
	// second auth failure is fatal for the call; retrying further would
	// loop forever against a permanently broken credential.
	maxAuthAttempts = 2

	endpointListEvents  = "/library/newselectlibrary"
	endpointSingleEvent = "/library/newselectsinglelibrary"
)

// Client wraps outbound calls to the VicoHome camera cloud API. Every
// request carries the bearer credential owned by the TokenManager; on any
// response that signals an authentication failure the credential is
// invalidated and the request retried exactly once with a fresh login.
type Client struct {
	settings   *conf.Settings
	auth       *TokenManager
	httpClient *http.Client
}

// NewClient creates a VicoHome API client using the given token manager.
func NewClient(settings *conf.Settings, auth *TokenManager) *Client {
	return &Client{
		settings:   settings,
		auth:       auth,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Close releases client resources.
func (c *Client) Close() {
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			logger.Warn("failed to close vicohome log file", "error", err)
		}
	}
}

// apiEnvelope is the common response wrapper of the VicoHome API. code or
// result 0 means success; a small set of negative integers denotes auth
// failures.
type apiEnvelope struct {
	Code   *int            `json:"code"`
	Result *int            `json:"result"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// resultCode returns the effective status code of the envelope, preferring
// code over result, with -1 when both are absent.
func (e *apiEnvelope) resultCode() int {
	if e.Code != nil {
		return *e.Code
	}
	if e.Result != nil {
		return *e.Result
	}
	return -1
}

// ListEvents fetches all motion events within the closed timestamp interval
// [start, end]. Items that fail to parse are skipped with a warning rather
// than failing the whole call.
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	payload := map[string]any{
		"startTimestamp": strconv.FormatInt(start.Unix(), 10),
		"endTimestamp":   strconv.FormatInt(end.Unix(), 10),
		"language":       "en",
		"countryNo":      c.settings.CountryNo(),
	}

	envelope, err := c.request(ctx, endpointListEvents, payload)
	if err != nil {
		return nil, err
	}
	if code := envelope.resultCode(); code != 0 {
		logger.Error("event list failed", "code", code, "msg", envelope.Msg)
		return nil, nil
	}

	var data struct {
		List []json.RawMessage `json:"list"`
	}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			return nil, errors.Newf("decoding event list: %w", err).
				Component("vicohome").
				Category(errors.CategoryNetwork).
				Build()
		}
	}

	events := make([]Event, 0, len(data.List))
	for _, raw := range data.List {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil || ev.TraceID == "" {
			logger.Warn("failed to parse event, skipping", "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetEvent fetches a single event by trace identifier. Returns nil without
// error when the event is unknown or unparseable.
func (c *Client) GetEvent(ctx context.Context, traceID string) (*Event, error) {
	payload := map[string]any{
		"traceId":   traceID,
		"language":  "en",
		"countryNo": c.settings.CountryNo(),
	}

	envelope, err := c.request(ctx, endpointSingleEvent, payload)
	if err != nil {
		return nil, err
	}
	if code := envelope.resultCode(); code != 0 {
		logger.Error("single event fetch failed", "trace_id", traceID, "code", code, "msg", envelope.Msg)
		return nil, nil
	}

	raw := envelope.Data
	// The response nests the event under "event" in some API versions.
	var probe struct {
		TraceID string          `json:"traceId"`
		Event   json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.TraceID == "" && len(probe.Event) > 0 {
		raw = probe.Event
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil || ev.TraceID == "" {
		logger.Warn("failed to parse single event", "trace_id", traceID)
		return nil, nil
	}
	return &ev, nil
}

// request performs an authenticated POST to the given endpoint with the
// in-band auth retry policy. Transport errors and non-2xx statuses
// unrelated to auth propagate immediately.
func (c *Client) request(ctx context.Context, endpoint string, payload map[string]any) (*apiEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.New(err).
			Component("vicohome").
			Category(errors.CategoryValidation).
			Build()
	}
	url := c.settings.APIBase() + endpoint

	for attempt := 0; attempt < maxAuthAttempts; attempt++ {
		token, err := c.auth.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, errors.New(err).
				Component("vicohome").
				Category(errors.CategoryNetwork).
				Build()
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.Newf("VicoHome API request failed: %w", err).
				Component("vicohome").
				Category(errors.CategoryNetwork).
				Context("endpoint", endpoint).
				Build()
		}

		respBody, err := io.ReadAll(resp.Body)
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("failed to close response body", "error", cerr)
		}
		if err != nil {
			return nil, errors.Newf("reading API response: %w", err).
				Component("vicohome").
				Category(errors.CategoryNetwork).
				Context("endpoint", endpoint).
				Build()
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, errors.Newf("VicoHome API returned status %d", resp.StatusCode).
				Component("vicohome").
				Category(errors.CategoryNetwork).
				Context("endpoint", endpoint).
				Context("status_code", resp.StatusCode).
				Build()
		}

		if isAuthFailure(respBody) {
			if attempt == 0 {
				logger.Warn("auth failure from API, refreshing token", "endpoint", endpoint)
				c.auth.Invalidate()
				continue
			}
			return nil, errors.Newf("VicoHome auth failed after token refresh").
				Component("vicohome").
				Category(errors.CategoryAuth).
				Context("endpoint", endpoint).
				Build()
		}

		var envelope apiEnvelope
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return nil, errors.Newf("decoding API response: %w", err).
				Component("vicohome").
				Category(errors.CategoryNetwork).
				Context("endpoint", endpoint).
				Build()
		}
		return &envelope, nil
	}

	return nil, errors.Newf("VicoHome API request failed after retries").
		Component("vicohome").
		Category(errors.CategoryAuth).
		Context("endpoint", endpoint).
		Build()
}

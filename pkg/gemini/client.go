// Package gemini is a minimal client for the generateContent REST endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/killer-ai/killer/pkg/models"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when the remote call exceeds the client timeout.
var ErrTimeout = errors.New("remote call timed out")

// ErrMalformed is returned when a 2xx body cannot be decoded.
var ErrMalformed = errors.New("malformed response")

// APIError is a non-2xx answer from the remote API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote status %d", e.StatusCode)
}

// Client sends prompts to a generateContent endpoint.
type Client struct {
	http       *http.Client
	timeout    time.Duration
	generation models.GenerationConfig
	safety     []models.SafetySetting
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, timeout time.Duration, generation models.GenerationConfig, safety []models.SafetySetting) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:       httpClient,
		timeout:    timeout,
		generation: generation,
		safety:     safety,
	}
}

// APIKeyHeader carries the API key so it never appears in request URLs.
const APIKeyHeader = "x-goog-api-key"

// Generate posts prompt to settings.APIEndpoint authenticated with settings.APIKey.
// It makes exactly one attempt.
func (c *Client) Generate(ctx context.Context, settings models.Settings, prompt string) (*models.GenerateResponse, int, error) {
	target, err := ValidateEndpoint(settings.APIEndpoint)
	if err != nil {
		return nil, 0, err
	}

	body, err := json.Marshal(models.GenerateRequest{
		Contents:         []models.Content{{Parts: []models.Part{{Text: prompt}}}},
		GenerationConfig: c.generation,
		SafetySettings:   c.safety,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, settings.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, timeoutOr(ctx, redact(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, timeoutOr(ctx, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var parsed models.GenerateResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Error != nil {
			apiErr.Message = parsed.Error.Message
		}
		return nil, resp.StatusCode, apiErr
	}

	var out models.GenerateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &out, resp.StatusCode, nil
}

// ErrInvalidEndpoint is returned for an endpoint that is not an absolute http(s) URL.
var ErrInvalidEndpoint = errors.New("invalid endpoint URL")

// ValidateEndpoint parses raw and rejects anything but an absolute http(s) URL.
func ValidateEndpoint(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, raw)
	}
	return u.String(), nil
}

// redact drops the query from a transport error's URL before it is logged.
func redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		if u, perr := url.Parse(ue.URL); perr == nil {
			u.RawQuery = ""
			ue.URL = u.String()
		}
	}
	return err
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

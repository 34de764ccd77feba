// Package vision provides the multimodal model provider client used by the
// pipeline: media description, same-take comparison, pairwise quality
// judgment, group naming and image enhancement.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Static errors for vision client operations.
var (
	// ErrModelRequired is returned when the model name is not provided.
	ErrModelRequired = errors.New("vision: model is required")
	// ErrAPIKeyNotSet is returned when no API key is available.
	ErrAPIKeyNotSet = errors.New("vision: GEMINI_API_KEY environment variable is not set")
	// ErrEmptyResponse is returned when the provider returns no usable content.
	ErrEmptyResponse = errors.New("vision: empty response from provider")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("vision: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("vision: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("vision: request failed")
)

// Prompts for the pipeline's model calls.
const (
	describePrompt = "Describe this media in one short sentence: the subject, the setting, and anything notable about the composition."

	sameTakePrompt = "These two photos may be takes of the same scene: same subject, same moment, with only trivial differences in framing, pose, exposure or composition. Answer with exactly one word: SAME or DIFFERENT."

	compareImagePrompt = `Compare the professional quality of these two photos: sharpness, exposure, composition, expression and overall appeal. Respond with JSON only, no markdown: {"winner": 1 or 2, "reasoning": "one sentence", "confidence": 0.0 to 1.0}`

	compareVideoPrompt = `Compare the professional quality of these two video clips: stability, framing, exposure, subject clarity and overall appeal. Respond with JSON only, no markdown: {"winner": 1 or 2, "reasoning": "one sentence", "confidence": 0.0 to 1.0}`

	nameGroupPrompt = "These descriptions all belong to photos of the same scene. Reply with a 2-4 word name for the scene and nothing else:\n"

	enhancePrompt = "Enhance this photo for professional quality: correct exposure and white balance, improve sharpness and contrast, and reduce noise. Keep the content and composition unchanged. Return the enhanced image."
)

// Client defines the interface for the multimodal model provider.
type Client interface {
	// Describe returns a one-sentence description of the media.
	Describe(ctx context.Context, m Media) (string, error)

	// SameTake reports whether two images are takes of the same scene.
	SameTake(ctx context.Context, a, b Media) (bool, error)

	// CompareQuality judges which of two media items is the stronger shot.
	CompareQuality(ctx context.Context, a, b Media) (CompareResult, error)

	// NameGroup produces a short name for a group from its members' labels.
	NameGroup(ctx context.Context, labels []string) (string, error)

	// Enhance returns an improved rendering of an image, or nil if the
	// provider produced no image.
	Enhance(ctx context.Context, m Media) (data []byte, mimeType string, err error)
}

// HTTPClient is the HTTP implementation of the vision Client interface.
type HTTPClient struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	callTimeout time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the provider API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithCallTimeout sets the per-call timeout.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.callTimeout = d
	}
}

// NewClient creates a new vision HTTP client for the given model.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable GEMINI_API_KEY.
func NewClient(model string, opts ...ClientOption) (*HTTPClient, error) {
	if model == "" {
		return nil, ErrModelRequired
	}

	c := &HTTPClient{
		model:       model,
		baseURL:     "https://generativelanguage.googleapis.com/v1beta",
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
		callTimeout: 90 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Describe returns a one-sentence description of the media.
func (c *HTTPClient) Describe(ctx context.Context, m Media) (string, error) {
	resp, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: describePrompt},
			{InlineData: inline(m)},
		}}},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.firstText())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// SameTake reports whether two images are takes of the same scene.
func (c *HTTPClient) SameTake(ctx context.Context, a, b Media) (bool, error) {
	resp, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: sameTakePrompt},
			{InlineData: inline(a)},
			{InlineData: inline(b)},
		}}},
	})
	if err != nil {
		return false, err
	}
	text := strings.ToUpper(strings.TrimSpace(resp.firstText()))
	if text == "" {
		return false, ErrEmptyResponse
	}
	return strings.Contains(text, "SAME") && !strings.Contains(text, "DIFFERENT"), nil
}

// CompareQuality judges which of two media items is the stronger shot.
func (c *HTTPClient) CompareQuality(ctx context.Context, a, b Media) (CompareResult, error) {
	prompt := compareImagePrompt
	if strings.HasPrefix(a.MimeType, "video/") {
		prompt = compareVideoPrompt
	}
	resp, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: prompt},
			{InlineData: inline(a)},
			{InlineData: inline(b)},
		}}},
	})
	if err != nil {
		return CompareResult{}, err
	}

	var result CompareResult
	if err := json.Unmarshal([]byte(stripFences(resp.firstText())), &result); err != nil {
		return CompareResult{}, fmt.Errorf("vision: parse compare verdict: %w", err)
	}
	if result.Winner != 1 && result.Winner != 2 {
		return CompareResult{}, fmt.Errorf("vision: compare verdict winner out of range: %d", result.Winner)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

// NameGroup produces a short name for a group from its members' labels.
// At most the first five labels are sent.
func (c *HTTPClient) NameGroup(ctx context.Context, labels []string) (string, error) {
	if len(labels) > 5 {
		labels = labels[:5]
	}
	resp, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: nameGroupPrompt + "- " + strings.Join(labels, "\n- ")},
		}}},
	})
	if err != nil {
		return "", err
	}
	name := strings.Trim(strings.TrimSpace(resp.firstText()), `"`)
	if name == "" {
		return "", ErrEmptyResponse
	}
	return name, nil
}

// Enhance returns an improved rendering of an image. A nil result with a
// nil error means the provider produced no image for this input.
func (c *HTTPClient) Enhance(ctx context.Context, m Media) ([]byte, string, error) {
	resp, err := c.generate(ctx, generateRequest{
		Contents: []content{{Parts: []part{
			{Text: enhancePrompt},
			{InlineData: inline(m)},
		}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	})
	if err != nil {
		return nil, "", err
	}

	img := resp.firstImage()
	if img == nil {
		return nil, "", nil
	}
	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, "", fmt.Errorf("vision: decode enhanced image: %w", err)
	}
	return data, img.MimeType, nil
}

// generate performs one generateContent call with the per-call timeout.
func (c *HTTPClient) generate(ctx context.Context, reqBody generateRequest) (*generateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("vision: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	var resp generateResponse
	if err := c.doRequestWithRetry(ctx, url, bodyBytes, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Error.Message)
	}
	return &resp, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("vision: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}

		err := c.doRequest(ctx, url, body, result)
		if err == nil {
			return nil
		}

		// Check if error is retryable
		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("vision: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, url string, body []byte, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vision: create request: %w", err)
	}

	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("vision: context cancelled: %w", ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("vision: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("vision: read response: %w", err)}
	}

	// Handle non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 5xx errors are retryable
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		// 429 (rate limit) is retryable
		if resp.StatusCode == 429 {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		// Other errors are not retryable
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("vision: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable reports whether the error is transient.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// inline converts a Media into the provider's inline payload form.
func inline(m Media) *inlineData {
	return &inlineData{
		MimeType: m.MimeType,
		Data:     base64.StdEncoding.EncodeToString(m.Data),
	}
}

// stripFences removes a markdown code fence wrapper from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

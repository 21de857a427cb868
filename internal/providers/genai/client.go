// Package genai is a lightweight facade over the Gemini REST API. It covers
// the three calls this application needs: schema-constrained text generation,
// single-image generation, and a low-cost key-validation probe. The API key is
// passed per call rather than held by the client, so one process can serve
// whatever key the settings store currently trusts.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Options controls how the Gemini client is configured.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client issues Gemini REST calls. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with a generous timeout is created, since
// image generation can take tens of seconds.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

// Schema is the subset of the Gemini response-schema vocabulary this
// application uses.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

const (
	TypeObject = "OBJECT"
	TypeString = "STRING"
	TypeNumber = "NUMBER"
	TypeArray  = "ARRAY"
)

// StructuredRequest asks for JSON output conforming to Schema.
type StructuredRequest struct {
	Model       string
	Prompt      string
	Temperature float64
	Schema      *Schema
}

// Image is one generated image as raw bytes plus its MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageRequest asks the image model for a single rendering of Prompt.
type ImageRequest struct {
	Model       string
	Prompt      string
	AspectRatio string
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	CandidateCount   int      `json:"candidateCount,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   *Schema  `json:"responseSchema,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount int    `json:"sampleCount"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType,omitempty"`
	} `json:"predictions"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}

// GenerateStructured performs a schema-constrained text generation and returns
// the raw JSON document the model produced.
func (c *Client) GenerateStructured(ctx context.Context, apiKey string, req StructuredRequest) (json.RawMessage, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: no API key supplied", domain.ErrInvalidCredentials)
	}

	temperature := req.Temperature
	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: &generationConfig{
			Temperature:      &temperature,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
		},
	}

	var out generateContentResponse
	if err := c.invoke(ctx, apiKey, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(req.Model)), payload, &out); err != nil {
		return nil, err
	}

	text := extractText(out)
	if text == "" {
		return nil, fmt.Errorf("%w: empty structured response", domain.ErrProviderFailure)
	}

	c.logger.Debug().Str("model", req.Model).Int("bytes", len(text)).Msg("genai: structured generation complete")
	return json.RawMessage(text), nil
}

// GenerateImage requests exactly one image at the given aspect ratio.
func (c *Client) GenerateImage(ctx context.Context, apiKey string, req ImageRequest) (Image, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Image{}, fmt.Errorf("%w: no API key supplied", domain.ErrInvalidCredentials)
	}

	payload := predictRequest{
		Instances:  []predictInstance{{Prompt: req.Prompt}},
		Parameters: predictParameters{SampleCount: 1, AspectRatio: req.AspectRatio},
	}

	var out predictResponse
	if err := c.invoke(ctx, apiKey, fmt.Sprintf("/models/%s:predict", url.PathEscape(req.Model)), payload, &out); err != nil {
		return Image{}, err
	}
	if len(out.Predictions) == 0 {
		return Image{}, domain.ErrNoImage
	}

	data, err := base64.StdEncoding.DecodeString(out.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return Image{}, fmt.Errorf("%w: decode image payload: %v", domain.ErrProviderFailure, err)
	}
	if len(data) == 0 {
		return Image{}, domain.ErrNoImage
	}

	mime := out.Predictions[0].MimeType
	if mime == "" {
		mime = "image/png"
	}

	c.logger.Debug().Str("model", req.Model).Int("bytes", len(data)).Msg("genai: image generation complete")
	return Image{Data: data, MIMEType: mime}, nil
}

// Probe issues a minimal generation call against a fast model. It returns nil
// iff the key is usable.
func (c *Client) Probe(ctx context.Context, apiKey, model string) error {
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("%w: no API key supplied", domain.ErrInvalidCredentials)
	}
	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: "test"}}}},
	}
	var out generateContentResponse
	return c.invoke(ctx, apiKey, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(model)), payload, &out)
}

func (c *Client) invoke(ctx context.Context, apiKey, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrProviderFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: invoke gemini: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.mapAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode gemini response: %v", domain.ErrProviderFailure, err)
	}
	return nil
}

// mapAPIError translates provider failures into the domain taxonomy: quota
// exhaustion is distinct and user-actionable, authorization failures must
// invalidate cached credential state, everything else is a generic provider
// failure.
func (c *Client) mapAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	message := strings.TrimSpace(string(data))
	status := ""
	var apiErr apiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
		status = apiErr.Error.Status
	}

	base := domain.ErrProviderFailure
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED":
		base = domain.ErrQuotaExceeded
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		status == "PERMISSION_DENIED",
		status == "UNAUTHENTICATED",
		strings.Contains(message, "API key not valid"):
		base = domain.ErrInvalidCredentials
	}

	c.logger.Warn().Int("status", resp.StatusCode).Str("api_status", status).Msg("genai: request failed")

	if message == "" {
		return fmt.Errorf("%w: gemini status %d", base, resp.StatusCode)
	}
	return fmt.Errorf("%w: gemini status %d: %s", base, resp.StatusCode, message)
}

func extractText(resp generateContentResponse) string {
	for _, candidate := range resp.Candidates {
		for _, p := range candidate.Content.Parts {
			if text := strings.TrimSpace(p.Text); text != "" {
				return text
			}
		}
	}
	return ""
}

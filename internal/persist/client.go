// Package persist submits assembled product records to the user-hosted save
// endpoint and translates its many failure shapes into the error taxonomy the
// UI needs: transport failures, crashed server scripts (which trigger a
// remediation guide), and failures the endpoint reported itself.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// SaveResult is a successful save, carrying any server-assigned identifier.
type SaveResult struct {
	ID json.RawMessage `json:"id,omitempty"`
}

// NetworkError is a transport-level failure: the endpoint never produced an
// HTTP response. Distinct from a failure the server reported.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network or CORS failure reaching the save endpoint: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return domain.ErrNetwork }

// ServerScriptError means the remote script crashed outright: a server-fault
// status with an empty body. Callers should show the remediation guide.
type ServerScriptError struct {
	StatusCode int
}

func (e *ServerScriptError) Error() string {
	return fmt.Sprintf("save endpoint script failed with status %d and an empty response", e.StatusCode)
}

// ShowGuide marks this failure as fixable by reconfiguring the endpoint script.
func (e *ServerScriptError) ShowGuide() bool { return true }

// ServerReportedError is a failure the endpoint reported itself, either as a
// JSON error field or as a raw body.
type ServerReportedError struct {
	StatusCode int
	Message    string
}

func (e *ServerReportedError) Error() string { return e.Message }

type saveResponse struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	ID    json.RawMessage `json:"id"`
}

// Client posts persistence payloads. Saves are idempotent per payload; a
// failed save is retried by calling Save again with the same payload, never
// automatically.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

type Options struct {
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{httpClient: httpClient, logger: logger}
}

// Save submits the payload to endpointURL and interprets the response.
func (c *Client) Save(ctx context.Context, payload domain.PersistencePayload, endpointURL string) (SaveResult, error) {
	if strings.TrimSpace(endpointURL) == "" {
		return SaveResult{}, fmt.Errorf("%w: no save endpoint configured", domain.ErrValidation)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return SaveResult{}, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return SaveResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("persist: transport failure")
		return SaveResult{}, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SaveResult{}, &NetworkError{Err: err}
	}
	text := strings.TrimSpace(string(raw))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return SaveResult{}, c.mapFailure(resp.StatusCode, text)
	}

	var parsed saveResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return SaveResult{}, &ServerReportedError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected save endpoint response: %s", text),
		}
	}
	if !parsed.OK {
		message := parsed.Error
		if message == "" {
			message = "the server reported a failure while saving"
		}
		return SaveResult{}, &ServerReportedError{StatusCode: resp.StatusCode, Message: message}
	}

	c.logger.Info().Str("product", payload.ProductName).Msg("persist: product saved")
	return SaveResult{ID: parsed.ID}, nil
}

func (c *Client) mapFailure(status int, body string) error {
	if status >= http.StatusInternalServerError && body == "" {
		return &ServerScriptError{StatusCode: status}
	}

	var parsed saveResponse
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Error != "" {
		return &ServerReportedError{StatusCode: status, Message: parsed.Error}
	}
	if body == "" {
		return &ServerReportedError{StatusCode: status, Message: fmt.Sprintf("save endpoint returned status %d", status)}
	}
	return &ServerReportedError{StatusCode: status, Message: fmt.Sprintf("save endpoint returned status %d: %s", status, body)}
}

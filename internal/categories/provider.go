// Package categories fetches the hierarchical category list from the
// user-hosted categories endpoint. A fetch failure is never fatal to the rest
// of the pipeline: callers degrade to "no category selection" instead.
package categories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// FetchError is any deviation while loading categories. ShowGuide is set when
// the failure looks like a broken endpoint script (HTTP 500), so the UI can
// offer the remediation guide.
type FetchError struct {
	Message   string
	ShowGuide bool
}

func (e *FetchError) Error() string { return e.Message }

type listResponse struct {
	OK    bool              `json:"ok"`
	Data  []domain.Category `json:"data"`
	Error string            `json:"error"`
}

// Provider fetches and caches category lists per endpoint URL.
type Provider struct {
	httpClient *http.Client
	cache      *cache.Cache
	ttl        time.Duration
	logger     zerolog.Logger
}

type Options struct {
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Logger     *zerolog.Logger
}

func NewProvider(opts Options) *Provider {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Provider{
		httpClient: httpClient,
		cache:      cache.New(ttl, 10*time.Minute),
		ttl:        ttl,
		logger:     logger,
	}
}

// Fetch returns the category list for endpointURL, served from cache when a
// recent result exists. Set refresh to bypass the cache.
func (p *Provider) Fetch(ctx context.Context, endpointURL string, refresh bool) ([]domain.Category, error) {
	endpointURL = strings.TrimSpace(endpointURL)
	if endpointURL == "" {
		return nil, &FetchError{Message: "no categories endpoint configured"}
	}

	if !refresh {
		if v, ok := p.cache.Get(endpointURL); ok {
			return v.([]domain.Category), nil
		}
	}

	list, err := p.fetchRemote(ctx, endpointURL)
	if err != nil {
		return nil, err
	}
	p.cache.Set(endpointURL, list, p.ttl)
	p.logger.Info().Int("count", len(list)).Msg("categories: list refreshed")
	return list, nil
}

func (p *Provider) fetchRemote(ctx context.Context, endpointURL string) ([]domain.Category, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("invalid categories endpoint: %v", err)}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("could not reach the categories endpoint: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("could not read the categories response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		guide := resp.StatusCode == http.StatusInternalServerError
		// The endpoint script may still have sent a JSON error body worth
		// surfacing; otherwise fall back to the status code.
		var parsed listResponse
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
			return nil, &FetchError{Message: parsed.Error, ShowGuide: guide}
		}
		return nil, &FetchError{Message: fmt.Sprintf("categories endpoint returned status %d", resp.StatusCode), ShowGuide: guide}
	}

	var parsed listResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &FetchError{Message: "unexpected response from the categories endpoint"}
	}
	if !parsed.OK || parsed.Data == nil {
		message := parsed.Error
		if message == "" {
			message = "unexpected response from the categories endpoint"
		}
		return nil, &FetchError{Message: message}
	}
	return parsed.Data, nil
}

// Package handlers exposes the generation pipeline over HTTP. Every handler
// hangs off App, which carries the shared components; responses are JSON and
// errors use a single envelope the UI can interpret.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/categories"
	"server/internal/domain"
	"server/internal/persist"
	"server/internal/session"
	"server/internal/settings"
)

// KeyValidator probes whether an API key can complete a minimal call.
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) bool
}

// Saver submits an assembled product record to the save endpoint.
type Saver interface {
	Save(ctx context.Context, payload domain.PersistencePayload, endpointURL string) (persist.SaveResult, error)
}

// CategorySource fetches the category list, optionally bypassing its cache.
type CategorySource interface {
	Fetch(ctx context.Context, endpointURL string, refresh bool) ([]domain.Category, error)
}

type App struct {
	Log        zerolog.Logger
	Settings   *settings.Store
	Sessions   *session.Registry
	Validator  KeyValidator
	Persist    Saver
	Categories CategorySource
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ShowGuide bool   `json:"showGuide,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorEnvelope{Error: errorBody{Code: errCode, Message: message}})
}

func (a *App) errorGuide(w http.ResponseWriter, code int, errCode, message string, guide bool) {
	a.json(w, code, errorEnvelope{Error: errorBody{Code: errCode, Message: message, ShowGuide: guide}})
}

// fail translates a pipeline error into the HTTP envelope. The mapping is the
// contract the UI relies on to pick its reaction (re-ask for the key, show the
// quota notice, open the endpoint guide).
func (a *App) fail(w http.ResponseWriter, err error) {
	var scriptErr *persist.ServerScriptError
	var reportedErr *persist.ServerReportedError
	var netErr *persist.NetworkError
	var catErr *categories.FetchError

	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		a.error(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, domain.ErrSlotBusy):
		a.error(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, domain.ErrInvalidCredentials):
		a.error(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
	case errors.Is(err, domain.ErrIncompleteData):
		a.error(w, http.StatusUnprocessableEntity, "incomplete_data", err.Error())
	case errors.As(err, &scriptErr):
		a.errorGuide(w, http.StatusBadGateway, "server_script_failed", scriptErr.Error(), true)
	case errors.As(err, &reportedErr):
		a.error(w, http.StatusBadGateway, "server_reported_failure", reportedErr.Error())
	case errors.As(err, &netErr), errors.Is(err, domain.ErrNetwork):
		a.error(w, http.StatusBadGateway, "network_failure", err.Error())
	case errors.As(err, &catErr):
		a.errorGuide(w, http.StatusServiceUnavailable, "categories_unavailable", catErr.Error(), catErr.ShowGuide)
	case errors.Is(err, domain.ErrProviderFailure), errors.Is(err, domain.ErrNoImage):
		a.error(w, http.StatusBadGateway, "provider_failure", err.Error())
	default:
		a.Log.Error().Err(err).Msg("handlers: unmapped error")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

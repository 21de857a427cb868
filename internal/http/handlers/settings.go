package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"server/internal/settings"
)

// settingsView is the wire form of the settings. The API key is masked on the
// way out so a shared screen never shows it in full.
type settingsView struct {
	settings.Settings
	APIKey    string `json:"apiKey"`
	HasAPIKey bool   `json:"hasApiKey"`
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func (a *App) GetSettings(w http.ResponseWriter, r *http.Request) {
	current := a.Settings.Get()
	a.json(w, http.StatusOK, settingsView{
		Settings:  current,
		APIKey:    maskKey(current.APIKey),
		HasAPIKey: current.APIKey != "",
	})
}

// UpdateSettings replaces the stored settings. An empty or masked apiKey field
// keeps the previously stored key so the UI can round-trip the masked view;
// a new key must pass a probe call before it is accepted.
func (a *App) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	current := a.Settings.Get()
	next.APIKey = strings.TrimSpace(next.APIKey)
	if next.APIKey == "" || next.APIKey == maskKey(current.APIKey) {
		next.APIKey = current.APIKey
	}

	keyChanged := next.APIKey != current.APIKey
	if keyChanged {
		if !a.Validator.ValidateKey(r.Context(), next.APIKey) {
			a.error(w, http.StatusUnauthorized, "invalid_credentials", "the API key failed validation")
			return
		}
	}

	if err := a.Settings.Commit(next); err != nil {
		a.fail(w, err)
		return
	}
	if keyChanged {
		a.Sessions.MarkCredentialsReady()
	}
	a.Log.Info().Msg("handlers: settings updated")
	a.GetSettings(w, r)
}

type validateKeyRequest struct {
	APIKey string `json:"apiKey"`
}

type validateKeyResponse struct {
	Valid bool `json:"valid"`
}

// ValidateKey probes the supplied key (or the stored one when the body omits
// it) with a minimal provider call. A key that validates is committed and
// every live session regains its credential-ready state.
func (a *App) ValidateKey(w http.ResponseWriter, r *http.Request) {
	var req validateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	current := a.Settings.Get()
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		key = current.APIKey
	}

	if !a.Validator.ValidateKey(r.Context(), key) {
		a.json(w, http.StatusOK, validateKeyResponse{Valid: false})
		return
	}

	if key != current.APIKey {
		current.APIKey = key
		if err := a.Settings.Commit(current); err != nil {
			a.fail(w, err)
			return
		}
	}
	a.Sessions.MarkCredentialsReady()
	a.json(w, http.StatusOK, validateKeyResponse{Valid: true})
}

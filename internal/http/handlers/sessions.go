package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/session"
)

// CreateSession starts a fresh idle session and returns its snapshot.
func (a *App) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := a.Sessions.Create()
	a.json(w, http.StatusCreated, s.Snapshot())
}

// GetSession returns the current snapshot, including in-flight image slots.
func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, s.Snapshot())
}

type generateRequest struct {
	ProductName string `json:"productName"`
	Language    string `json:"language"`
}

// GenerateListing runs the full text-then-images pipeline for a product name.
// The response carries the finished draft; the image slots complete in the
// background and are observed through GetSession polling.
func (a *App) GenerateListing(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	language := domain.ParseLanguage(req.Language)
	if req.Language == "" {
		language = middleware.LanguageFromContext(r.Context())
	}

	snap, err := s.Generate(r.Context(), session.GenerateInput{
		ProductName: req.ProductName,
		Language:    language,
	}, a.Settings.Get())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, snap)
}

// RegenerateImage re-runs generation for one image slot, synchronously.
func (a *App) RegenerateImage(w http.ResponseWriter, r *http.Request) {
	s, slot, ok := a.sessionSlot(w, r)
	if !ok {
		return
	}
	snap, err := s.RegenerateImage(r.Context(), slot, a.Settings.Get())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, snap)
}

// DeleteImage clears one image slot without touching the draft.
func (a *App) DeleteImage(w http.ResponseWriter, r *http.Request) {
	s, slot, ok := a.sessionSlot(w, r)
	if !ok {
		return
	}
	snap, err := s.DeleteImage(slot)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, snap)
}

// sessionSlot resolves the {id} and {slot} route params. Slots are 1-based on
// the wire, matching how the UI labels them.
func (a *App) sessionSlot(w http.ResponseWriter, r *http.Request) (*session.Session, int, bool) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return nil, 0, false
	}
	n, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || n < 1 || n > session.SlotCount {
		a.error(w, http.StatusBadRequest, "validation_failed", "slot must be 1 or 2")
		return nil, 0, false
	}
	return s, n - 1, true
}

// EditDraft merges user-edited fields into the draft. The body is a partial
// object keyed by draft field name.
func (a *App) EditDraft(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if len(fields) == 0 {
		a.error(w, http.StatusBadRequest, "validation_failed", "no fields to edit")
		return
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var snap session.Snapshot
	for _, name := range names {
		snap, err = s.EditField(name, fields[name])
		if err != nil {
			a.fail(w, err)
			return
		}
	}
	a.json(w, http.StatusOK, snap)
}

// ResetSession returns the session to its initial state.
func (a *App) ResetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, s.Reset())
}

type saveRequest struct {
	CategoryID    int     `json:"categoryId"`
	StockQuantity int     `json:"stockQuantity"`
	PurchasePrice float64 `json:"purchasePrice"`
	Unit          string  `json:"unit"`
}

type saveResponse struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Message string          `json:"message"`
}

// SaveProduct assembles the persistence payload from the session and submits
// it to the configured save endpoint.
func (a *App) SaveProduct(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.StockQuantity <= 0 {
		req.StockQuantity = 1
	}
	if req.Unit == "" {
		req.Unit = "unidad"
	}

	payload, err := s.BuildPayload(req.CategoryID, req.StockQuantity, req.PurchasePrice, req.Unit)
	if err != nil {
		a.fail(w, err)
		return
	}

	result, err := a.Persist.Save(r.Context(), payload, a.Settings.Get().SaveURL)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, saveResponse{ID: result.ID, Message: "¡Producto guardado exitosamente!"})
}

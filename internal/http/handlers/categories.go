package handlers

import (
	"net/http"

	"server/internal/domain"
)

type categoriesResponse struct {
	Data []domain.Category `json:"data"`
}

// GetCategories returns the category list from the configured endpoint,
// served from cache unless refresh=1 is given.
func (a *App) GetCategories(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"
	list, err := a.Categories.Fetch(r.Context(), a.Settings.Get().CategoriesURL, refresh)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, categoriesResponse{Data: list})
}

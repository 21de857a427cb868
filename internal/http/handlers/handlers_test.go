package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/categories"
	"server/internal/domain"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/listing"
	"server/internal/persist"
	"server/internal/session"
	"server/internal/settings"
)

type fakeGen struct {
	mu          sync.Mutex
	detailsErr  error
	imageErr    error
	draft       domain.ProductDraft
	imageCalls  int
	detailCalls int
}

func (f *fakeGen) GenerateDetails(ctx context.Context, apiKey string, req listing.DetailsRequest) (domain.ProductDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if f.detailsErr != nil {
		return domain.ProductDraft{}, f.detailsErr
	}
	return f.draft, nil
}

func (f *fakeGen) GenerateImage(ctx context.Context, apiKey, prompt string, style domain.ImageStyle, ratio domain.AspectRatio) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return "data:image/png;base64,Zm9v", nil
}

type fakeValidator struct {
	valid   bool
	lastKey string
}

func (f *fakeValidator) ValidateKey(ctx context.Context, apiKey string) bool {
	f.lastKey = apiKey
	return f.valid
}

type fakeSaver struct {
	err     error
	result  persist.SaveResult
	payload domain.PersistencePayload
	url     string
}

func (f *fakeSaver) Save(ctx context.Context, payload domain.PersistencePayload, endpointURL string) (persist.SaveResult, error) {
	f.payload = payload
	f.url = endpointURL
	if f.err != nil {
		return persist.SaveResult{}, f.err
	}
	return f.result, nil
}

type fakeCats struct {
	err     error
	list    []domain.Category
	refresh bool
}

func (f *fakeCats) Fetch(ctx context.Context, endpointURL string, refresh bool) ([]domain.Category, error) {
	f.refresh = refresh
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

type harness struct {
	router    http.Handler
	app       *handlers.App
	gen       *fakeGen
	validator *fakeValidator
	saver     *fakeSaver
	cats      *fakeCats
}

func sampleDraft() domain.ProductDraft {
	return domain.ProductDraft{
		ProductName:     "Taladro Percutor 850W",
		Description:     "<h3>Taladro</h3>",
		MetaDescription: "Taladro percutor de 850W.",
		Tags:            []string{"taladro", "herramientas"},
		Price:           450000,
		Currency:        "PYG",
		ImagePrompt:     "a power drill on a workbench",
		ImagePrompt2:    "a power drill, side view",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.New(io.Discard)

	seed := settings.Defaults()
	seed.APIKey = "key-1234abcd"
	seed.SaveURL = "https://shop.example/save-product.php"
	seed.CategoriesURL = "https://shop.example/get-categories.php"
	store, err := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"), seed)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	gen := &fakeGen{draft: sampleDraft()}
	normalize := func(uri string, quality float64) (string, error) { return uri, nil }
	registry := session.NewRegistry(gen, normalize, time.Hour, logger)

	validator := &fakeValidator{valid: true}
	saver := &fakeSaver{result: persist.SaveResult{ID: json.RawMessage(`42`)}}
	cats := &fakeCats{list: []domain.Category{{ID: 1, Name: "Herramientas"}}}

	app := &handlers.App{
		Log:        logger,
		Settings:   store,
		Sessions:   registry,
		Validator:  validator,
		Persist:    saver,
		Categories: cats,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		DefaultLanguage: domain.LanguageES,
		Logger:          logger,
	})
	return &harness{router: router, app: app, gen: gen, validator: validator, saver: saver, cats: cats}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v (body %s)", err, w.Body.String())
	}
	return snap
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) (string, bool) {
	t.Helper()
	var envelope struct {
		Error struct {
			Code      string `json:"code"`
			ShowGuide bool   `json:"showGuide"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, w.Body.String())
	}
	return envelope.Error.Code, envelope.Error.ShowGuide
}

func (h *harness) createSession(t *testing.T) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/v1/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session = %d, want 201", w.Code)
	}
	return decodeSnapshot(t, w).ID
}

func (h *harness) waitSession(t *testing.T, id string) {
	t.Helper()
	s, err := h.app.Sessions.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	s.Wait()
}

func TestCreateAndGetSession(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	w := h.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get session = %d, want 200", w.Code)
	}
	snap := decodeSnapshot(t, w)
	if snap.State != session.StateIdle {
		t.Fatalf("state = %q, want idle", snap.State)
	}
	if !snap.CredentialsReady {
		t.Fatalf("new session must start credential-ready")
	}
}

func TestGetUnknownSession(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/v1/sessions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code, _ := errCode(t, w); code != "session_not_found" {
		t.Fatalf("code = %q, want session_not_found", code)
	}
}

func TestGenerateHappyPath(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro Percutor 850W"})
	if w.Code != http.StatusOK {
		t.Fatalf("generate = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	snap := decodeSnapshot(t, w)
	if snap.Draft == nil || snap.Draft.ProductName != "Taladro Percutor 850W" {
		t.Fatalf("draft = %+v, want sample draft", snap.Draft)
	}
	if snap.State != session.StateDetailsReady {
		t.Fatalf("state = %q, want details_ready", snap.State)
	}

	h.waitSession(t, id)
	w = h.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	snap = decodeSnapshot(t, w)
	for i, slot := range snap.Slots {
		if slot.URL == "" || slot.Loading {
			t.Fatalf("slot %d = %+v, want settled with URL", i+1, slot)
		}
	}
}

func TestGenerateBlankName(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code, _ := errCode(t, w); code != "validation_failed" {
		t.Fatalf("code = %q, want validation_failed", code)
	}
	if h.gen.detailCalls != 0 {
		t.Fatalf("detailCalls = %d, want 0", h.gen.detailCalls)
	}
}

func TestGenerateInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.gen.detailsErr = domain.ErrInvalidCredentials
	id := h.createSession(t)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if code, _ := errCode(t, w); code != "invalid_credentials" {
		t.Fatalf("code = %q, want invalid_credentials", code)
	}

	w = h.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	if snap := decodeSnapshot(t, w); snap.CredentialsReady {
		t.Fatalf("credentialsReady still true after auth failure")
	}
}

func TestGenerateQuotaExceeded(t *testing.T) {
	h := newHarness(t)
	h.gen.detailsErr = domain.ErrQuotaExceeded
	id := h.createSession(t)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	w = h.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	if snap := decodeSnapshot(t, w); !snap.CredentialsReady {
		t.Fatalf("quota failure must not invalidate credentials")
	}
}

func TestRegenerateValidation(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/images/3/regenerate", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("slot 3 status = %d, want 400", w.Code)
	}

	w = h.do(t, http.MethodPost, "/v1/sessions/"+id+"/images/1/regenerate", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("no-draft status = %d, want 400", w.Code)
	}
}

func TestRegenerateAfterGenerate(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	h.waitSession(t, id)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/images/2/regenerate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("regenerate = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	snap := decodeSnapshot(t, w)
	if snap.Slots[1].URL == "" || snap.Slots[1].Loading {
		t.Fatalf("slot 2 = %+v, want settled with URL", snap.Slots[1])
	}
}

func TestDeleteImage(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	h.waitSession(t, id)

	w := h.do(t, http.MethodDelete, "/v1/sessions/"+id+"/images/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d, want 200", w.Code)
	}
	snap := decodeSnapshot(t, w)
	if snap.Slots[0].URL != "" {
		t.Fatalf("slot 1 URL = %q, want cleared", snap.Slots[0].URL)
	}
	if snap.Slots[1].URL == "" {
		t.Fatalf("slot 2 must keep its image")
	}
}

func TestEditDraft(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	h.waitSession(t, id)

	w := h.do(t, http.MethodPatch, "/v1/sessions/"+id+"/draft", map[string]any{
		"price":       390000,
		"productName": "Taladro Percutor Pro",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	snap := decodeSnapshot(t, w)
	if snap.Draft.Price != 390000 || snap.Draft.ProductName != "Taladro Percutor Pro" {
		t.Fatalf("draft = %+v, edits not applied", snap.Draft)
	}

	w = h.do(t, http.MethodPatch, "/v1/sessions/"+id+"/draft", map[string]any{"bogus": 1})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d, want 400", w.Code)
	}
}

func TestResetSession(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	h.waitSession(t, id)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/reset", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset = %d, want 200", w.Code)
	}
	snap := decodeSnapshot(t, w)
	if snap.State != session.StateIdle || snap.Draft != nil || snap.Slots[0].URL != "" {
		t.Fatalf("snapshot after reset = %+v, want empty idle state", snap)
	}
}

func TestSaveIncomplete(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/save", map[string]any{"categoryId": 7})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if code, _ := errCode(t, w); code != "incomplete_data" {
		t.Fatalf("code = %q, want incomplete_data", code)
	}
}

func TestSaveSuccess(t *testing.T) {
	h := newHarness(t)
	id := h.createSession(t)
	h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	h.waitSession(t, id)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/save", map[string]any{
		"categoryId":    7,
		"stockQuantity": 5,
		"purchasePrice": 300000,
		"unit":          "unidad",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "guardado exitosamente") {
		t.Fatalf("body = %s, want success message", w.Body.String())
	}
	if h.saver.url != "https://shop.example/save-product.php" {
		t.Fatalf("save URL = %q", h.saver.url)
	}
	p := h.saver.payload
	if p.CategoryID != 7 || p.StockQuantity != 5 || p.ImageURL1 == "" {
		t.Fatalf("payload = %+v, fields not carried over", p)
	}
}

func TestSaveServerScriptFailure(t *testing.T) {
	h := newHarness(t)
	h.saver.err = &persist.ServerScriptError{StatusCode: 500}
	id := h.createSession(t)
	h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})
	h.waitSession(t, id)

	w := h.do(t, http.MethodPost, "/v1/sessions/"+id+"/save", map[string]any{"categoryId": 7})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	code, guide := errCode(t, w)
	if code != "server_script_failed" || !guide {
		t.Fatalf("code = %q guide = %v, want server_script_failed with guide", code, guide)
	}
}

func TestCategories(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/v1/categories?refresh=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !h.cats.refresh {
		t.Fatalf("refresh flag not forwarded")
	}
	var resp struct {
		Data []domain.Category `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Name != "Herramientas" {
		t.Fatalf("data = %+v", resp.Data)
	}
}

func TestCategoriesFailure(t *testing.T) {
	h := newHarness(t)
	h.cats.err = &categories.FetchError{Message: "script crashed", ShowGuide: true}

	w := h.do(t, http.MethodGet, "/v1/categories", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	code, guide := errCode(t, w)
	if code != "categories_unavailable" || !guide {
		t.Fatalf("code = %q guide = %v, want categories_unavailable with guide", code, guide)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/v1/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get settings = %d, want 200", w.Code)
	}
	var view map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	masked, _ := view["apiKey"].(string)
	if !strings.HasSuffix(masked, "abcd") || !strings.Contains(masked, "*") {
		t.Fatalf("apiKey = %q, want masked with visible suffix", masked)
	}
	if view["hasApiKey"] != true {
		t.Fatalf("hasApiKey = %v, want true", view["hasApiKey"])
	}

	// Round-tripping the masked key must keep the stored one.
	update := settings.Defaults()
	update.APIKey = masked
	update.SaveURL = "https://other.example/save.php"
	w = h.do(t, http.MethodPut, "/v1/settings", update)
	if w.Code != http.StatusOK {
		t.Fatalf("put settings = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	got := h.app.Settings.Get()
	if got.APIKey != "key-1234abcd" {
		t.Fatalf("APIKey = %q, want original preserved", got.APIKey)
	}
	if got.SaveURL != "https://other.example/save.php" {
		t.Fatalf("SaveURL = %q, update lost", got.SaveURL)
	}
}

func TestUpdateSettingsRejectsInvalidNewKey(t *testing.T) {
	h := newHarness(t)
	h.validator.valid = false

	update := settings.Defaults()
	update.APIKey = "key-brand-new"
	w := h.do(t, http.MethodPut, "/v1/settings", update)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if got := h.app.Settings.Get().APIKey; got != "key-1234abcd" {
		t.Fatalf("stored key = %q, invalid key must not be committed", got)
	}
}

func TestUpdateSettingsRejectsBadTone(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPut, "/v1/settings", map[string]any{"tone": "shouty"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestValidateKeyRestoresSessions(t *testing.T) {
	h := newHarness(t)
	h.gen.detailsErr = domain.ErrInvalidCredentials
	id := h.createSession(t)
	h.do(t, http.MethodPost, "/v1/sessions/"+id+"/generate", map[string]string{"productName": "Taladro"})

	w := h.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	if snap := decodeSnapshot(t, w); snap.CredentialsReady {
		t.Fatalf("precondition: credentials must be marked unready")
	}

	w = h.do(t, http.MethodPost, "/v1/settings/validate-key", map[string]string{"apiKey": "key-new-5678"})
	if w.Code != http.StatusOK {
		t.Fatalf("validate-key = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"valid":true`) {
		t.Fatalf("body = %s, want valid:true", w.Body.String())
	}
	if h.validator.lastKey != "key-new-5678" {
		t.Fatalf("probed key = %q", h.validator.lastKey)
	}
	if got := h.app.Settings.Get().APIKey; got != "key-new-5678" {
		t.Fatalf("stored key = %q, want committed new key", got)
	}

	w = h.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	if snap := decodeSnapshot(t, w); !snap.CredentialsReady {
		t.Fatalf("credentialsReady still false after successful validation")
	}
}

func TestValidateKeyInvalid(t *testing.T) {
	h := newHarness(t)
	h.validator.valid = false

	w := h.do(t, http.MethodPost, "/v1/settings/validate-key", map[string]string{"apiKey": "bad"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"valid":false`) {
		t.Fatalf("body = %s, want valid:false", w.Body.String())
	}
	if got := h.app.Settings.Get().APIKey; got != "key-1234abcd" {
		t.Fatalf("stored key = %q, an invalid key must not be committed", got)
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/v1/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

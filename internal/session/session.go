// Package session holds the per-client state machine of one generation
// session: the product draft, the two image slots, and the operations the UI
// drives (generate, regenerate, delete, edit, reset, save assembly).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"server/internal/domain"
	"server/internal/listing"
	"server/internal/settings"
)

// State is the lifecycle phase of a session.
type State string

const (
	StateIdle           State = "idle"
	StateDetailsPending State = "details_pending"
	StateDetailsReady   State = "details_ready"
)

// Slots per session: primary product photo and alternate angle.
const SlotCount = 2

// ImageSlot is one independent image position. Each generation branch writes
// only to its own slot, so the two branches never contend.
type ImageSlot struct {
	URL          string `json:"url"`
	Loading      bool   `json:"loading"`
	SourcePrompt string `json:"sourcePrompt"`
	Error        string `json:"error,omitempty"`
}

// Generator is the slice of the listing generator a session drives.
type Generator interface {
	GenerateDetails(ctx context.Context, apiKey string, req listing.DetailsRequest) (domain.ProductDraft, error)
	GenerateImage(ctx context.Context, apiKey, prompt string, style domain.ImageStyle, ratio domain.AspectRatio) (string, error)
}

// Normalizer bounds a generated image before it is stored in a slot.
type Normalizer func(dataURI string, quality float64) (string, error)

// Session is safe for concurrent use; all state behind mu.
type Session struct {
	ID string

	generator Generator
	normalize Normalizer
	logger    zerolog.Logger

	mu               sync.Mutex
	state            State
	draft            *domain.ProductDraft
	slots            [SlotCount]ImageSlot
	errMessage       string
	successMessage   string
	credentialsReady bool

	// epoch advances on every clear; a branch started under an older epoch
	// discards its result instead of resurrecting a reset slot.
	epoch uint64

	branches *errgroup.Group
}

// Snapshot is the immutable view handed to the HTTP layer.
type Snapshot struct {
	ID               string                `json:"id"`
	State            State                 `json:"state"`
	Draft            *domain.ProductDraft  `json:"draft,omitempty"`
	Slots            [SlotCount]ImageSlot  `json:"slots"`
	Error            string                `json:"error,omitempty"`
	SuccessMessage   string                `json:"successMessage,omitempty"`
	CredentialsReady bool                  `json:"credentialsReady"`
}

func New(id string, generator Generator, normalize Normalizer, logger zerolog.Logger) *Session {
	return &Session{
		ID:               id,
		generator:        generator,
		normalize:        normalize,
		logger:           logger.With().Str("session", id).Logger(),
		state:            StateIdle,
		credentialsReady: true,
	}
}

// GenerateInput is the caller-supplied part of a generation request.
type GenerateInput struct {
	ProductName string
	Language    domain.Language
}

// Generate runs one full text-then-images generation. It validates input
// before any network call, replaces all prior session state, and, once the
// draft is ready, starts up to two image branches that complete in the
// background. The returned snapshot reflects the draft with both branches
// still loading.
func (s *Session) Generate(ctx context.Context, in GenerateInput, prefs settings.Settings) (Snapshot, error) {
	name := strings.TrimSpace(in.ProductName)
	if name == "" {
		return s.Snapshot(), fmt.Errorf("%w: product name is required", domain.ErrValidation)
	}
	language := in.Language
	if language == "" {
		language = prefs.Language
	}

	s.mu.Lock()
	if s.inFlightLocked() {
		s.mu.Unlock()
		return s.Snapshot(), fmt.Errorf("%w: a generation is already in progress", domain.ErrSlotBusy)
	}
	s.clearLocked()
	s.state = StateDetailsPending
	s.mu.Unlock()

	draft, err := s.generator.GenerateDetails(ctx, prefs.APIKey, listing.DetailsRequest{
		ProductName: name,
		Language:    language,
		Tone:        prefs.Tone,
		Temperature: prefs.Temperature,
	})
	if err != nil {
		s.failGenerate(err)
		return s.Snapshot(), err
	}

	s.mu.Lock()
	s.state = StateDetailsReady
	s.draft = &draft
	s.credentialsReady = true
	s.successMessage = "¡Detalles generados! Ahora generando imágenes..."

	prompts := [SlotCount]string{draft.ImagePrompt, draft.ImagePrompt2}
	group := &errgroup.Group{}
	s.branches = group
	epoch := s.epoch

	// The image branches outlive the request that started them; detach from
	// its cancellation but keep its values.
	bctx := context.WithoutCancel(ctx)
	for i, prompt := range prompts {
		if strings.TrimSpace(prompt) == "" {
			continue
		}
		slot, slotPrompt := i, prompt
		s.slots[slot].Loading = true
		s.slots[slot].SourcePrompt = slotPrompt
		group.Go(func() error {
			s.runImageBranch(bctx, epoch, slot, slotPrompt, prefs)
			return nil
		})
	}
	s.mu.Unlock()

	s.logger.Info().Str("product", name).Str("language", string(language)).Msg("session: draft generated")
	return s.Snapshot(), nil
}

// failGenerate records a failed text generation. The whole session aborts:
// no image branch has been started. An authorization failure additionally
// invalidates the session's credential-ready state, forcing key re-entry;
// a quota failure keeps credentials trusted but gets its own message.
func (s *Session) failGenerate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		s.errMessage = "Error de cuota (429). Verifique la facturación de su clave en Google AI Studio."
	case errors.Is(err, domain.ErrInvalidCredentials):
		s.errMessage = "Error de permiso o clave de API inválida. Verifique su clave."
		s.credentialsReady = false
	default:
		s.errMessage = err.Error()
	}
	s.logger.Warn().Err(err).Msg("session: detail generation failed")
}

// runImageBranch owns exactly one slot: generate, normalize, store. A failure
// is contained to the slot and never aborts the sibling branch.
func (s *Session) runImageBranch(ctx context.Context, epoch uint64, slot int, prompt string, prefs settings.Settings) {
	uri, err := s.generator.GenerateImage(ctx, prefs.APIKey, prompt, prefs.ImageStyle, prefs.AspectRatio)
	if err == nil {
		uri, err = s.normalize(uri, imagingQuality)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		s.logger.Debug().Int("slot", slot+1).Msg("session: discarding image from a cleared generation")
		return
	}
	s.slots[slot].Loading = false
	if err != nil {
		s.slots[slot].Error = fmt.Sprintf("Error Imagen %d: %s", slot+1, err.Error())
		s.logger.Warn().Err(err).Int("slot", slot+1).Msg("session: image branch failed")
		return
	}
	s.slots[slot].URL = uri
	s.slots[slot].Error = ""
	s.logger.Info().Int("slot", slot+1).Msg("session: image ready")
}

const imagingQuality = 0.85

// RegenerateImage re-runs the generate-and-normalize sequence for one slot.
// The other slot and the draft are untouched; on failure the slot keeps its
// previous image.
func (s *Session) RegenerateImage(ctx context.Context, slot int, prefs settings.Settings) (Snapshot, error) {
	if slot < 0 || slot >= SlotCount {
		return s.Snapshot(), fmt.Errorf("%w: slot %d out of range", domain.ErrValidation, slot+1)
	}

	s.mu.Lock()
	if s.draft == nil {
		s.mu.Unlock()
		return s.Snapshot(), fmt.Errorf("%w: no draft to regenerate images for", domain.ErrValidation)
	}
	prompt := s.draft.ImagePrompt
	if slot == 1 {
		prompt = s.draft.ImagePrompt2
	}
	if strings.TrimSpace(prompt) == "" {
		s.mu.Unlock()
		return s.Snapshot(), fmt.Errorf("%w: no prompt for image %d", domain.ErrValidation, slot+1)
	}
	if s.slots[slot].Loading {
		s.mu.Unlock()
		return s.Snapshot(), fmt.Errorf("%w: image %d is still generating", domain.ErrSlotBusy, slot+1)
	}
	s.slots[slot].Loading = true
	s.slots[slot].SourcePrompt = prompt
	s.slots[slot].Error = ""
	s.successMessage = ""
	epoch := s.epoch
	s.mu.Unlock()

	uri, err := s.generator.GenerateImage(ctx, prefs.APIKey, prompt, prefs.ImageStyle, prefs.AspectRatio)
	if err == nil {
		uri, err = s.normalize(uri, imagingQuality)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.slots[slot].Loading = false
		if err != nil {
			s.slots[slot].Error = fmt.Sprintf("Error al regenerar imagen %d: %s", slot+1, err.Error())
		} else {
			s.slots[slot].URL = uri
		}
	}
	s.mu.Unlock()

	if err != nil {
		return s.Snapshot(), err
	}
	return s.Snapshot(), nil
}

// DeleteImage clears one slot. No network call is made.
func (s *Session) DeleteImage(slot int) (Snapshot, error) {
	if slot < 0 || slot >= SlotCount {
		return s.Snapshot(), fmt.Errorf("%w: slot %d out of range", domain.ErrValidation, slot+1)
	}
	s.mu.Lock()
	if s.slots[slot].Loading {
		s.mu.Unlock()
		return s.Snapshot(), fmt.Errorf("%w: image %d is still generating", domain.ErrSlotBusy, slot+1)
	}
	s.slots[slot].URL = ""
	s.slots[slot].Error = ""
	s.mu.Unlock()
	return s.Snapshot(), nil
}

// EditField merges a single user-edited field into the draft. Editing without
// a draft is a no-op, mirroring the original client.
func (s *Session) EditField(field string, value json.RawMessage) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return s.snapshotLocked(), nil
	}

	var err error
	switch field {
	case "productName":
		err = json.Unmarshal(value, &s.draft.ProductName)
	case "description":
		err = json.Unmarshal(value, &s.draft.Description)
	case "metaDescription":
		err = json.Unmarshal(value, &s.draft.MetaDescription)
	case "tags":
		err = json.Unmarshal(value, &s.draft.Tags)
	case "price":
		err = json.Unmarshal(value, &s.draft.Price)
	case "currency":
		err = json.Unmarshal(value, &s.draft.Currency)
	case "imagePrompt":
		err = json.Unmarshal(value, &s.draft.ImagePrompt)
	case "imagePrompt2":
		err = json.Unmarshal(value, &s.draft.ImagePrompt2)
	default:
		return s.snapshotLocked(), fmt.Errorf("%w: unknown field %q", domain.ErrValidation, field)
	}
	if err != nil {
		return s.snapshotLocked(), fmt.Errorf("%w: value for %q: %v", domain.ErrValidation, field, err)
	}
	return s.snapshotLocked(), nil
}

// Reset returns the session to Idle, clearing the draft, both slots, and all
// messages.
func (s *Session) Reset() Snapshot {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
	return s.Snapshot()
}

// BuildPayload assembles the persistence payload from the current draft and
// slots plus the externally supplied fields. It fails fast when there is no
// draft or both image slots are empty.
func (s *Session) BuildPayload(categoryID, stockQuantity int, purchasePrice float64, unit string) (domain.PersistencePayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft == nil || (s.slots[0].URL == "" && s.slots[1].URL == "") {
		return domain.PersistencePayload{}, fmt.Errorf("%w: need a draft and at least one image", domain.ErrIncompleteData)
	}

	return domain.PersistencePayload{
		CategoryID:      categoryID,
		StockQuantity:   stockQuantity,
		ProductName:     s.draft.ProductName,
		Description:     s.draft.Description,
		MetaDescription: s.draft.MetaDescription,
		Tags:            s.draft.Tags,
		Price:           s.draft.Price,
		PurchasePrice:   purchasePrice,
		Unit:            unit,
		Currency:        s.draft.Currency,
		ImageURL1:       s.slots[0].URL,
		ImageURL2:       s.slots[1].URL,
	}, nil
}

// MarkCredentialsReady restores the credential-ready flag after a new key has
// been validated and committed.
func (s *Session) MarkCredentialsReady() {
	s.mu.Lock()
	s.credentialsReady = true
	s.mu.Unlock()
}

// CredentialsReady reports whether the last provider interaction trusted the
// configured key.
func (s *Session) CredentialsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credentialsReady
}

// Wait blocks until both image branches reach a terminal state. Used by tests
// and by callers that need a settled snapshot.
func (s *Session) Wait() {
	s.mu.Lock()
	group := s.branches
	s.mu.Unlock()
	if group != nil {
		_ = group.Wait()
	}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:               s.ID,
		State:            s.state,
		Slots:            s.slots,
		Error:            s.errMessage,
		SuccessMessage:   s.successMessage,
		CredentialsReady: s.credentialsReady,
	}
	if s.draft != nil {
		draft := *s.draft
		draft.Tags = append([]string(nil), s.draft.Tags...)
		snap.Draft = &draft
	}
	return snap
}

func (s *Session) inFlightLocked() bool {
	return s.state == StateDetailsPending || s.slots[0].Loading || s.slots[1].Loading
}

func (s *Session) clearLocked() {
	s.epoch++
	s.state = StateIdle
	s.draft = nil
	s.slots = [SlotCount]ImageSlot{}
	s.errMessage = ""
	s.successMessage = ""
	// branches is kept: Wait can still observe stale branches draining.
}

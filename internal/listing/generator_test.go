package listing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/genai"
)

type fakeProvider struct {
	structured func(context.Context, string, genai.StructuredRequest) (json.RawMessage, error)
	image      func(context.Context, string, genai.ImageRequest) (genai.Image, error)
	probe      func(context.Context, string, string) error
}

func (f *fakeProvider) GenerateStructured(ctx context.Context, apiKey string, req genai.StructuredRequest) (json.RawMessage, error) {
	if f.structured != nil {
		return f.structured(ctx, apiKey, req)
	}
	return nil, errors.New("structured not implemented")
}

func (f *fakeProvider) GenerateImage(ctx context.Context, apiKey string, req genai.ImageRequest) (genai.Image, error) {
	if f.image != nil {
		return f.image(ctx, apiKey, req)
	}
	return genai.Image{}, errors.New("image not implemented")
}

func (f *fakeProvider) Probe(ctx context.Context, apiKey, model string) error {
	if f.probe != nil {
		return f.probe(ctx, apiKey, model)
	}
	return errors.New("probe not implemented")
}

func newGenerator(p Provider) *Generator {
	return NewGenerator(p, Models{}, zerolog.Nop())
}

func TestGenerateDetailsBuildsSpanishMarketPrompt(t *testing.T) {
	var captured genai.StructuredRequest
	provider := &fakeProvider{structured: func(_ context.Context, apiKey string, req genai.StructuredRequest) (json.RawMessage, error) {
		if apiKey != "key" {
			t.Errorf("apiKey = %q, want %q", apiKey, "key")
		}
		captured = req
		return json.RawMessage(`{"productName":"Mate térmico","currency":"USD","price":150000,"tags":["mate"],"imagePrompt":"a thermos","imagePrompt2":"side view"}`), nil
	}}

	draft, err := newGenerator(provider).GenerateDetails(context.Background(), "key", DetailsRequest{
		ProductName: "Mate térmico",
		Language:    domain.LanguageES,
		Tone:        domain.ToneFriendly,
		Temperature: 0.8,
	})
	if err != nil {
		t.Fatalf("GenerateDetails returned error: %v", err)
	}

	if captured.Model != "gemini-2.5-pro" {
		t.Fatalf("model = %q", captured.Model)
	}
	if !strings.Contains(captured.Prompt, "mercado de Paraguay") {
		t.Fatalf("prompt missing market context: %q", captured.Prompt)
	}
	if !strings.Contains(captured.Prompt, "amigable") {
		t.Fatalf("prompt missing friendly tone: %q", captured.Prompt)
	}
	if !strings.Contains(captured.Prompt, "'PYG'") {
		t.Fatalf("prompt does not pin currency: %q", captured.Prompt)
	}
	if captured.Schema == nil || len(captured.Schema.Required) != 8 {
		t.Fatalf("schema required fields = %+v", captured.Schema)
	}
	if !strings.Contains(captured.Schema.Properties["currency"].Description, "PYG") {
		t.Fatalf("currency schema description = %q", captured.Schema.Properties["currency"].Description)
	}

	// Model answered USD; the market pin must win.
	if draft.Currency != "PYG" {
		t.Fatalf("Currency = %q, want PYG", draft.Currency)
	}
	if draft.Price != 150000 {
		t.Fatalf("Price = %v", draft.Price)
	}
}

func TestGenerateDetailsEnglishMarket(t *testing.T) {
	provider := &fakeProvider{structured: func(_ context.Context, _ string, req genai.StructuredRequest) (json.RawMessage, error) {
		if !strings.Contains(req.Prompt, "international e-commerce market") {
			t.Errorf("prompt missing market context: %q", req.Prompt)
		}
		return json.RawMessage(`{"productName":"Thermal mug","currency":"","imagePrompt":"a mug","imagePrompt2":""}`), nil
	}}

	draft, err := newGenerator(provider).GenerateDetails(context.Background(), "key", DetailsRequest{
		ProductName: "Thermal mug",
		Language:    domain.LanguageEN,
		Tone:        domain.TonePersuasive,
	})
	if err != nil {
		t.Fatalf("GenerateDetails returned error: %v", err)
	}
	if draft.Currency != "USD" {
		t.Fatalf("Currency = %q, want USD", draft.Currency)
	}
}

func TestGenerateDetailsParseFailure(t *testing.T) {
	provider := &fakeProvider{structured: func(context.Context, string, genai.StructuredRequest) (json.RawMessage, error) {
		return json.RawMessage(`not json at all`), nil
	}}
	_, err := newGenerator(provider).GenerateDetails(context.Background(), "key", DetailsRequest{ProductName: "X", Language: domain.LanguageES})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
}

func TestGenerateDetailsPropagatesQuotaError(t *testing.T) {
	provider := &fakeProvider{structured: func(context.Context, string, genai.StructuredRequest) (json.RawMessage, error) {
		return nil, domain.ErrQuotaExceeded
	}}
	_, err := newGenerator(provider).GenerateDetails(context.Background(), "key", DetailsRequest{ProductName: "X", Language: domain.LanguageES})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}
}

func TestGenerateImageAppendsStyleSuffix(t *testing.T) {
	var captured genai.ImageRequest
	provider := &fakeProvider{image: func(_ context.Context, _ string, req genai.ImageRequest) (genai.Image, error) {
		captured = req
		return genai.Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"}, nil
	}}

	uri, err := newGenerator(provider).GenerateImage(context.Background(), "key", "a red mug", domain.StyleCloseup, domain.RatioWidescreen)
	if err != nil {
		t.Fatalf("GenerateImage returned error: %v", err)
	}
	if !strings.HasPrefix(captured.Prompt, "a red mug, macro shot") {
		t.Fatalf("prompt = %q", captured.Prompt)
	}
	if captured.AspectRatio != "16:9" {
		t.Fatalf("aspectRatio = %q", captured.AspectRatio)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("uri = %q", uri)
	}
}

func TestValidateKeyNeverPropagates(t *testing.T) {
	provider := &fakeProvider{probe: func(context.Context, string, string) error {
		return domain.ErrQuotaExceeded
	}}
	g := newGenerator(provider)
	if g.ValidateKey(context.Background(), "key") {
		t.Fatal("ValidateKey = true for failing probe")
	}
	if g.ValidateKey(context.Background(), "") {
		t.Fatal("ValidateKey = true for empty key")
	}

	provider.probe = func(context.Context, string, string) error { return nil }
	if !g.ValidateKey(context.Background(), "key") {
		t.Fatal("ValidateKey = false for healthy probe")
	}
}

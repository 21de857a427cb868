// Package listing turns a bare product name into a complete draft listing:
// marketing copy, SEO metadata, pricing and image prompts, plus the product
// photos themselves. Prompts are assembled from fixed vocabulary tables, not
// free text, so results stay schema-conformant and language-consistent.
package listing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/genai"
)

// Provider is the generative-AI capability the generator depends on. The
// concrete Gemini adapter implements it; tests substitute fakes.
type Provider interface {
	GenerateStructured(ctx context.Context, apiKey string, req genai.StructuredRequest) (json.RawMessage, error)
	GenerateImage(ctx context.Context, apiKey string, req genai.ImageRequest) (genai.Image, error)
	Probe(ctx context.Context, apiKey, model string) error
}

// Models names the provider models used for each call type.
type Models struct {
	Text  string
	Image string
	Probe string
}

// Generator is the AI client of the pipeline.
type Generator struct {
	provider Provider
	models   Models
	logger   zerolog.Logger
}

func NewGenerator(provider Provider, models Models, logger zerolog.Logger) *Generator {
	if models.Text == "" {
		models.Text = "gemini-2.5-pro"
	}
	if models.Image == "" {
		models.Image = "imagen-4.0-generate-001"
	}
	if models.Probe == "" {
		models.Probe = "gemini-2.5-flash"
	}
	return &Generator{provider: provider, models: models, logger: logger}
}

// marketConfig ties a content language to its target market and currency.
type marketConfig struct {
	langName      string
	marketContext string
	currencyName  string
	currencyCode  string
}

var markets = map[domain.Language]marketConfig{
	domain.LanguageES: {
		langName:      "español",
		marketContext: "El contexto es el mercado de Paraguay.",
		currencyName:  "Guaraníes Paraguayos (PYG)",
		currencyCode:  "PYG",
	},
	domain.LanguageEN: {
		langName:      "inglés",
		marketContext: "The context is the international e-commerce market.",
		currencyName:  "US Dollars (USD)",
		currencyCode:  "USD",
	},
}

var toneDescriptions = map[domain.Language]map[domain.Tone]string{
	domain.LanguageES: {
		domain.TonePersuasive:   "un tono de marketing persuasivo y vendedor",
		domain.ToneProfessional: "un tono profesional, informativo y formal",
		domain.ToneFriendly:     "un tono cercano, amigable y conversacional",
		domain.ToneTechnical:    "un tono técnico, centrado en especificaciones y datos precisos",
	},
	domain.LanguageEN: {
		domain.TonePersuasive:   "a persuasive and sales-oriented marketing tone",
		domain.ToneProfessional: "a professional, informative, and formal tone",
		domain.ToneFriendly:     "a close, friendly, and conversational tone",
		domain.ToneTechnical:    "a technical tone, focused on specifications and precise data",
	},
}

// styleSuffixes are always English regardless of content language; the image
// model performs best with English prompts.
var styleSuffixes = map[domain.ImageStyle]string{
	domain.StyleStudio:     "professional studio photography, clean neutral background, high detail, 8k",
	domain.StyleLifestyle:  "lifestyle shot, in a relevant real-world setting, natural lighting, high quality",
	domain.StyleMinimalist: "minimalist style, simple composition, plain background, focus on product shape",
	domain.StyleCloseup:    "macro shot, close-up on product details and texture, dramatic lighting",
}

// DetailsRequest carries the parameters of one text generation.
type DetailsRequest struct {
	ProductName string
	Language    domain.Language
	Tone        domain.Tone
	Temperature float64
}

// GenerateDetails builds the instruction for the requested language, market
// and tone, issues the structured-generation call and parses the result. The
// currency code is pinned to the market regardless of what the model says.
func (g *Generator) GenerateDetails(ctx context.Context, apiKey string, req DetailsRequest) (domain.ProductDraft, error) {
	market, ok := markets[req.Language]
	if !ok {
		market = markets[domain.LanguageES]
	}
	tone := toneDescriptions[req.Language][req.Tone]
	if tone == "" {
		tone = toneDescriptions[domain.LanguageES][domain.TonePersuasive]
	}

	prompt := fmt.Sprintf(
		"Para el producto %q, genera los detalles completos. La descripción debe ser un bloque de HTML con %s. "+
			"Adicionalmente, genera una meta descripción para SEO, tags relevantes y un precio estimado en %s. %s "+
			"La respuesta debe estar completamente en %s, excepto los campos 'imagePrompt' que siempre deben estar en inglés. "+
			"Responde únicamente en formato JSON, siguiendo el esquema proporcionado. "+
			"El código de moneda en el JSON final debe ser '%s'.",
		req.ProductName, tone, market.currencyName, market.marketContext, market.langName, market.currencyCode,
	)

	raw, err := g.provider.GenerateStructured(ctx, apiKey, genai.StructuredRequest{
		Model:       g.models.Text,
		Prompt:      prompt,
		Temperature: req.Temperature,
		Schema:      productSchema(market.currencyCode),
	})
	if err != nil {
		return domain.ProductDraft{}, err
	}

	var draft domain.ProductDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return domain.ProductDraft{}, fmt.Errorf("%w: parse product draft: %v", domain.ErrProviderFailure, err)
	}

	// The request pins the currency; enforce it even if the model drifted.
	draft.Currency = market.currencyCode

	g.logger.Info().
		Str("product", req.ProductName).
		Str("language", string(req.Language)).
		Str("currency", draft.Currency).
		Int("tags", len(draft.Tags)).
		Msg("listing: draft generated")

	return draft, nil
}

// GenerateImage renders one product photo for the prompt, with the selected
// style suffix appended, and returns it as a base64 data URI.
func (g *Generator) GenerateImage(ctx context.Context, apiKey, prompt string, style domain.ImageStyle, ratio domain.AspectRatio) (string, error) {
	suffix, ok := styleSuffixes[style]
	if !ok {
		suffix = styleSuffixes[domain.StyleStudio]
	}
	if ratio == "" {
		ratio = domain.RatioSquare
	}

	img, err := g.provider.GenerateImage(ctx, apiKey, genai.ImageRequest{
		Model:       g.models.Image,
		Prompt:      prompt + ", " + suffix,
		AspectRatio: string(ratio),
	})
	if err != nil {
		return "", err
	}

	g.logger.Info().Str("style", string(style)).Str("ratio", string(ratio)).Msg("listing: image generated")
	return fmt.Sprintf("data:%s;base64,%s", img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)), nil
}

// ValidateKey reports whether the key can complete a minimal low-cost call.
// It never propagates an error: any failure means the key is unusable.
func (g *Generator) ValidateKey(ctx context.Context, apiKey string) bool {
	if strings.TrimSpace(apiKey) == "" {
		return false
	}
	if err := g.provider.Probe(ctx, apiKey, g.models.Probe); err != nil {
		g.logger.Warn().Err(err).Msg("listing: API key validation failed")
		return false
	}
	return true
}

// productSchema is the fixed response schema for a product draft. The price
// and currency descriptions embed the market's currency code so the model has
// no room to choose another one.
func productSchema(currencyCode string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"productName": {
				Type:        genai.TypeString,
				Description: "El nombre oficial y completo del producto.",
			},
			"description": {
				Type: genai.TypeString,
				Description: "Una descripción completa y detallada del producto en formato HTML, lista para ser insertada en una página web. Debe seguir estrictamente esta estructura:\n" +
					"1. Un <h3> con un título destacado del producto.\n" +
					"2. Un <p> con un párrafo introductorio de marketing.\n" +
					"3. Un <h4> con el texto \"✅ Principales características\" (o \"✅ Key Features\" si es en inglés).\n" +
					"4. Un <ul> con 5 a 7 <li> que listen las características o beneficios clave.\n" +
					"5. Opcionalmente, más secciones con <h4> y <ul> para \"¿Para quién es ideal?\", \"Detalles adicionales\" o \"Consideraciones\".\n" +
					"6. Un <hr> opcional antes del resumen final.\n" +
					"7. Un <p> final con un párrafo de resumen convincente.",
			},
			"metaDescription": {
				Type:        genai.TypeString,
				Description: "Una meta descripción corta para SEO, de máximo 160 caracteres, que resuma el producto y motive al clic.",
			},
			"tags": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Una lista de 5 a 7 tags o palabras clave relevantes para el producto (ej: 'smartphone', 'cámara pro', 'tecnología paraguay').",
			},
			"price": {
				Type:        genai.TypeNumber,
				Description: fmt.Sprintf("Un precio estimado y realista del producto en el mercado objetivo. Solo el número, sin comas ni símbolos. La moneda debe ser %s.", currencyCode),
			},
			"currency": {
				Type:        genai.TypeString,
				Description: fmt.Sprintf("La moneda para el precio, que debe ser '%s'.", currencyCode),
			},
			"imagePrompt": {
				Type:        genai.TypeString,
				Description: "Un prompt en inglés, conciso y efectivo para un modelo de generación de imágenes, para crear una foto de producto atractiva y de alta calidad.",
			},
			"imagePrompt2": {
				Type:        genai.TypeString,
				Description: "Un segundo prompt en inglés, conciso y efectivo para generar otra imagen del mismo producto desde un ángulo diferente (ej. 'side view', 'back view', 'close-up on details').",
			},
		},
		Required: []string{"productName", "description", "metaDescription", "tags", "price", "currency", "imagePrompt", "imagePrompt2"},
	}
}

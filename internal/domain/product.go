package domain

import (
	"fmt"
	"strings"
)

// ProductDraft is the generated-but-not-yet-persisted product record. Field
// names match the JSON shape the provider schema requests, so a structured
// generation response unmarshals straight into it.
type ProductDraft struct {
	ProductName     string   `json:"productName"`
	Description     string   `json:"description"`
	MetaDescription string   `json:"metaDescription"`
	Tags            []string `json:"tags"`
	Price           float64  `json:"price"`
	Currency        string   `json:"currency"`
	ImagePrompt     string   `json:"imagePrompt"`
	ImagePrompt2    string   `json:"imagePrompt2"`
}

// PersistencePayload is the flattened record submitted to the save endpoint.
// Both price fields and both image URLs travel together even when one image
// slot is empty.
type PersistencePayload struct {
	CategoryID      int      `json:"categoryId"`
	StockQuantity   int      `json:"stockQuantity"`
	ProductName     string   `json:"productName"`
	Description     string   `json:"description"`
	MetaDescription string   `json:"metaDescription"`
	Tags            []string `json:"tags"`
	Price           float64  `json:"price"`
	PurchasePrice   float64  `json:"purchasePrice"`
	Unit            string   `json:"unit"`
	Currency        string   `json:"currency"`
	ImageURL1       string   `json:"imageUrl1"`
	ImageURL2       string   `json:"imageUrl2"`
}

// Language selects the content language and, with it, the target market and
// currency of the generated listing.
type Language string

const (
	LanguageES Language = "es"
	LanguageEN Language = "en"
)

// ParseLanguage normalizes a locale-ish string to a supported language.
// Unknown values fall back to Spanish, the primary market.
func ParseLanguage(s string) Language {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "en") {
		return LanguageEN
	}
	return LanguageES
}

// Tone is the enumerated writing tone for the generated description.
type Tone string

const (
	TonePersuasive   Tone = "persuasive"
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneTechnical    Tone = "technical"
)

func ParseTone(s string) (Tone, error) {
	switch Tone(strings.ToLower(strings.TrimSpace(s))) {
	case TonePersuasive, "":
		return TonePersuasive, nil
	case ToneProfessional:
		return ToneProfessional, nil
	case ToneFriendly:
		return ToneFriendly, nil
	case ToneTechnical:
		return ToneTechnical, nil
	}
	return "", fmt.Errorf("%w: unknown tone %q", ErrValidation, s)
}

// ImageStyle is the enumerated photographic style appended to image prompts.
type ImageStyle string

const (
	StyleStudio     ImageStyle = "studio"
	StyleLifestyle  ImageStyle = "lifestyle"
	StyleMinimalist ImageStyle = "minimalist"
	StyleCloseup    ImageStyle = "closeup"
)

func ParseImageStyle(s string) (ImageStyle, error) {
	switch ImageStyle(strings.ToLower(strings.TrimSpace(s))) {
	case StyleStudio, "":
		return StyleStudio, nil
	case StyleLifestyle:
		return StyleLifestyle, nil
	case StyleMinimalist:
		return StyleMinimalist, nil
	case StyleCloseup:
		return StyleCloseup, nil
	}
	return "", fmt.Errorf("%w: unknown image style %q", ErrValidation, s)
}

// AspectRatio is the enumerated aspect ratio for generated product photos.
type AspectRatio string

const (
	RatioSquare     AspectRatio = "1:1"
	RatioClassic    AspectRatio = "4:3"
	RatioWidescreen AspectRatio = "16:9"
)

func ParseAspectRatio(s string) (AspectRatio, error) {
	switch AspectRatio(strings.TrimSpace(s)) {
	case RatioSquare, "":
		return RatioSquare, nil
	case RatioClassic:
		return RatioClassic, nil
	case RatioWidescreen:
		return RatioWidescreen, nil
	}
	return "", fmt.Errorf("%w: unknown aspect ratio %q", ErrValidation, s)
}

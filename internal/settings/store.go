// Package settings owns the process-wide configuration the user can change at
// runtime: the provider API key, the two remote endpoint URLs, and the
// generation preferences. It is read once at startup and mutated only through
// an explicit commit; components receive values from here instead of reading
// ambient global state.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"server/internal/domain"
)

// Settings holds the user-editable configuration.
type Settings struct {
	APIKey        string             `json:"apiKey"`
	SaveURL       string             `json:"saveUrl"`
	CategoriesURL string             `json:"categoriesUrl"`
	Language      domain.Language    `json:"language"`
	Tone          domain.Tone        `json:"tone"`
	Temperature   float64            `json:"temperature"`
	ImageStyle    domain.ImageStyle  `json:"imageStyle"`
	AspectRatio   domain.AspectRatio `json:"aspectRatio"`
}

// Defaults mirrors the out-of-the-box preferences of the web client.
func Defaults() Settings {
	return Settings{
		Language:    domain.LanguageES,
		Tone:        domain.TonePersuasive,
		Temperature: 0.8,
		ImageStyle:  domain.StyleStudio,
		AspectRatio: domain.RatioSquare,
	}
}

// Normalize validates the enumerated fields and clamps temperature into
// [0,1]. Invalid enum values are reported, not silently replaced.
func (s *Settings) Normalize() error {
	var err error
	s.Language = domain.ParseLanguage(string(s.Language))
	if s.Tone, err = domain.ParseTone(string(s.Tone)); err != nil {
		return err
	}
	if s.ImageStyle, err = domain.ParseImageStyle(string(s.ImageStyle)); err != nil {
		return err
	}
	if s.AspectRatio, err = domain.ParseAspectRatio(string(s.AspectRatio)); err != nil {
		return err
	}
	if s.Temperature < 0 {
		s.Temperature = 0
	}
	if s.Temperature > 1 {
		s.Temperature = 1
	}
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.SaveURL = strings.TrimSpace(s.SaveURL)
	s.CategoriesURL = strings.TrimSpace(s.CategoriesURL)
	return nil
}

// Store persists Settings as a JSON file. Commits are atomic: the file is
// written to a temp sibling and renamed over the previous version.
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// NewStore loads the settings file at path. A missing file is not an error:
// the store starts from the given seed (defaults plus whatever the
// environment provided) and creates the file on first commit.
func NewStore(path string, seed Settings) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings: path is required")
	}
	if err := seed.Normalize(); err != nil {
		return nil, fmt.Errorf("settings: invalid seed: %w", err)
	}

	s := &Store{path: path, current: seed}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	if err := loaded.Normalize(); err != nil {
		return nil, fmt.Errorf("settings: %s: %w", path, err)
	}
	// The environment seed only fills gaps the file leaves open.
	if loaded.APIKey == "" {
		loaded.APIKey = seed.APIKey
	}
	if loaded.SaveURL == "" {
		loaded.SaveURL = seed.SaveURL
	}
	if loaded.CategoriesURL == "" {
		loaded.CategoriesURL = seed.CategoriesURL
	}
	s.current = loaded
	return s, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Commit validates, persists and installs new settings.
func (s *Store) Commit(next Settings) error {
	if err := next.Normalize(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: ensure directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("settings: write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: replace %s: %w", s.path, err)
	}
	s.current = next
	return nil
}

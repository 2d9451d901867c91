// Package settings persists the ordered list of favorite language pairs.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/live-translator/internal/lang"
)

// ErrInvalidPair is returned when a pair names an unsupported or identical language
var ErrInvalidPair = errors.New("invalid language pair")

// LanguagePair is one favorite shortcut
type LanguagePair struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Store loads and wholesale overwrites favorites
type Store interface {
	LoadFavorites(ctx context.Context) ([]LanguagePair, error)
	SaveFavorites(ctx context.Context, pairs []LanguagePair) error
	Healthy(ctx context.Context) error
}

// DefaultFavorites is used when nothing has been saved yet
func DefaultFavorites() []LanguagePair {
	return []LanguagePair{
		{Source: "en", Target: "es"},
		{Source: "en", Target: "de"},
		{Source: "en", Target: "fr"},
		{Source: "en", Target: "ja"},
	}
}

// Validate checks every pair against the language table
func Validate(pairs []LanguagePair) error {
	for i, p := range pairs {
		if err := lang.ValidatePair(p.Source, p.Target); err != nil {
			return fmt.Errorf("%w at %d: %v", ErrInvalidPair, i, err)
		}
		if p.Source == p.Target {
			return fmt.Errorf("%w at %d: source and target are both %q", ErrInvalidPair, i, p.Source)
		}
	}
	return nil
}

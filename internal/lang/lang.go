// Package lang holds the table of languages offered for text and live translation.
package lang

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage is returned for a code that is not in the table
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language is one selectable language
type Language struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Supported lists the selectable languages in display order
var Supported = []Language{
	{Code: "ar", Name: "Arabic"},
	{Code: "zh", Name: "Chinese"},
	{Code: "nl", Name: "Dutch"},
	{Code: "en", Name: "English"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "hi", Name: "Hindi"},
	{Code: "id", Name: "Indonesian"},
	{Code: "it", Name: "Italian"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ko", Name: "Korean"},
	{Code: "pl", Name: "Polish"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "ru", Name: "Russian"},
	{Code: "es", Name: "Spanish"},
	{Code: "sv", Name: "Swedish"},
	{Code: "th", Name: "Thai"},
	{Code: "tr", Name: "Turkish"},
	{Code: "uk", Name: "Ukrainian"},
	{Code: "vi", Name: "Vietnamese"},
}

var byCode = func() map[string]Language {
	m := make(map[string]Language, len(Supported))
	for _, l := range Supported {
		m[l.Code] = l
	}
	return m
}()

// Lookup returns the language for a code, ignoring case and surrounding space
func Lookup(code string) (Language, error) {
	l, ok := byCode[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	return l, nil
}

// Name returns the display name for a code, or the code itself when unknown
func Name(code string) string {
	if l, err := Lookup(code); err == nil {
		return l.Name
	}
	return code
}

// ValidatePair checks that both codes are supported
func ValidatePair(source, target string) error {
	if _, err := Lookup(source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if _, err := Lookup(target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}

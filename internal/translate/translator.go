// Package translate performs one-shot text translation through a hosted model.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/lang"
	"github.com/lexiqai/live-translator/internal/observability"
)

// ErrTranslationFailed is returned when the provider call fails or returns nothing
var ErrTranslationFailed = errors.New("translation failed")

const systemPrompt = "You are a professional translator. Reply with the translated text only. " +
	"Do not add quotes, notes, explanations or alternatives."

// Generator produces text for a prompt
type Generator interface {
	Generate(ctx context.Context, systemInstruction, prompt string) (string, error)
}

// Translator translates text between two supported languages
type Translator struct {
	gen     Generator
	timeout time.Duration
	logger  zerolog.Logger
}

// NewTranslator creates a translator; timeout 0 means no per-request limit
func NewTranslator(gen Generator, timeout time.Duration, logger zerolog.Logger) *Translator {
	return &Translator{
		gen:     gen,
		timeout: timeout,
		logger:  observability.Component(logger, "translate"),
	}
}

// Translate returns the translation of text. Blank text returns "" without calling the provider.
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	src, err := lang.Lookup(source)
	if err != nil {
		return "", err
	}
	tgt, err := lang.Lookup(target)
	if err != nil {
		return "", err
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf("Translate the following text from %s to %s.\n\n%s", src.Name, tgt.Name, text)

	start := time.Now()
	out, err := t.gen.Generate(ctx, systemPrompt, prompt)
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(out) == "" {
		err = errors.New("empty response")
	}
	observability.RecordTranslation(err == nil, latency)

	if err != nil {
		t.logger.Error().Err(err).
			Str("source", src.Code).
			Str("target", tgt.Code).
			Dur("latency", latency).
			Msg("Text translation failed")
		return "", fmt.Errorf("%w: %v", ErrTranslationFailed, err)
	}

	t.logger.Debug().
		Str("source", src.Code).
		Str("target", tgt.Code).
		Int("chars", len(text)).
		Dur("latency", latency).
		Msg("Text translated")

	return strings.TrimSpace(out), nil
}

package translate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/lang"
)

type fakeGenerator struct {
	calls  int
	prompt string
	system string
	reply  string
	err    error
	delay  time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	f.system = systemInstruction
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

func TestTranslate_Success(t *testing.T) {
	gen := &fakeGenerator{reply: "  Hola mundo \n"}
	tr := NewTranslator(gen, time.Second, zerolog.Nop())

	out, err := tr.Translate(context.Background(), "Hello world", "en", "es")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out != "Hola mundo" {
		t.Errorf("Expected 'Hola mundo', got '%s'", out)
	}
	if !strings.Contains(gen.prompt, "from English to Spanish") {
		t.Errorf("Expected prompt to name both languages, got %q", gen.prompt)
	}
	if !strings.Contains(gen.prompt, "Hello world") {
		t.Errorf("Expected prompt to contain source text, got %q", gen.prompt)
	}
	if !strings.Contains(gen.system, "translated text only") {
		t.Errorf("Expected system instruction to forbid commentary, got %q", gen.system)
	}
}

func TestTranslate_BlankInputSkipsCall(t *testing.T) {
	gen := &fakeGenerator{reply: "unused"}
	tr := NewTranslator(gen, 0, zerolog.Nop())

	out, err := tr.Translate(context.Background(), "   ", "en", "es")
	if err != nil || out != "" {
		t.Errorf("Expected empty result and no error, got '%s', %v", out, err)
	}
	if gen.calls != 0 {
		t.Errorf("Expected no provider call, got %d", gen.calls)
	}
}

func TestTranslate_ProviderFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	tr := NewTranslator(gen, 0, zerolog.Nop())

	_, err := tr.Translate(context.Background(), "Hello", "en", "de")
	if !errors.Is(err, ErrTranslationFailed) {
		t.Errorf("Expected ErrTranslationFailed, got %v", err)
	}
	if gen.calls != 1 {
		t.Errorf("Expected exactly one attempt, got %d", gen.calls)
	}
}

func TestTranslate_EmptyResponseFails(t *testing.T) {
	tr := NewTranslator(&fakeGenerator{reply: " "}, 0, zerolog.Nop())

	_, err := tr.Translate(context.Background(), "Hello", "en", "de")
	if !errors.Is(err, ErrTranslationFailed) {
		t.Errorf("Expected ErrTranslationFailed for empty response, got %v", err)
	}
}

func TestTranslate_Timeout(t *testing.T) {
	gen := &fakeGenerator{reply: "late", delay: time.Second}
	tr := NewTranslator(gen, 20*time.Millisecond, zerolog.Nop())

	_, err := tr.Translate(context.Background(), "Hello", "en", "fr")
	if !errors.Is(err, ErrTranslationFailed) {
		t.Errorf("Expected ErrTranslationFailed on timeout, got %v", err)
	}
}

func TestTranslate_UnsupportedLanguage(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	tr := NewTranslator(gen, 0, zerolog.Nop())

	_, err := tr.Translate(context.Background(), "Hello", "en", "xx")
	if !errors.Is(err, lang.ErrUnsupportedLanguage) {
		t.Errorf("Expected ErrUnsupportedLanguage, got %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("Expected no provider call, got %d", gen.calls)
	}
}

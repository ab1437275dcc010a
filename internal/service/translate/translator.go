// Package translate provides the one-shot translation channel used to
// annotate finalized segments.
package translate

import (
	"context"
	"errors"
	"fmt"
)

// Translator turns finalized text into the target language.
type Translator interface {
	// Translate performs a single request/response call. Failures are
	// reported as *Error carrying the original text.
	Translate(ctx context.Context, text, language string) (string, error)

	// Name identifies the backend for logs and metrics.
	Name() string
}

// ErrTranslationFailed matches every *Error via errors.Is.
var ErrTranslationFailed = errors.New("translation failed")

// Error is returned for non-success responses and network failures.
// Text holds the untranslated input so callers can render it as-is.
type Error struct {
	Text     string
	Language string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("translation to %s failed: status %d: %v", e.Language, e.Status, e.Err)
	}
	return fmt.Sprintf("translation to %s failed: %v", e.Language, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports ErrTranslationFailed as a match.
func (e *Error) Is(target error) bool { return target == ErrTranslationFailed }

func newError(text, language string, status int, err error) *Error {
	return &Error{Text: text, Language: language, Status: status, Err: err}
}

// Nop returns the input unchanged. Used when translation is disabled.
type Nop struct{}

func (Nop) Translate(_ context.Context, text, _ string) (string, error) { return text, nil }

func (Nop) Name() string { return "none" }

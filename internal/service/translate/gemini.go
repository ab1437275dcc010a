package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"ai-live-transcription-service/internal/observability/logging"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

const geminiSystemPrompt = "You translate live speech transcripts. " +
	"Reply with the translation only, without quotes, notes or explanations."

// GeminiConfig configures the Gemini translation backend.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiTranslator translates segments with a Gemini model.
type GeminiTranslator struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewGemini creates a Gemini translator using the Gemini API backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiTranslator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiTranslator{
		client: client,
		model:  model,
		logger: logging.WithComponent("translate.gemini"),
	}, nil
}

// Name implements Translator.
func (t *GeminiTranslator) Name() string { return "gemini" }

// Translate implements Translator.
func (t *GeminiTranslator) Translate(ctx context.Context, text, language string) (string, error) {
	resp, err := t.client.Models.GenerateContent(ctx, t.model, genai.Text(buildPrompt(text, language)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(geminiSystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	})
	if err != nil {
		return "", newError(text, language, 0, err)
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		t.logger.Warn().Str("model", t.model).Msg("Gemini returned empty translation")
		return "", newError(text, language, 0, errors.New("empty response"))
	}
	return out, nil
}

func buildPrompt(text, language string) string {
	return fmt.Sprintf("Translate the following text to %s:\n\n%s", language, text)
}

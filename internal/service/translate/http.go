package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-live-transcription-service/internal/observability/logging"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// HTTPConfig configures the HTTP translation endpoint.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPTranslator posts {text, language} and reads the translated text
// from a plain-text response body.
type HTTPTranslator struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTP creates an HTTP translator.
func NewHTTP(cfg HTTPConfig) *HTTPTranslator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTranslator{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.WithComponent("translate.http"),
	}
}

type translateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Name implements Translator.
func (t *HTTPTranslator) Name() string { return "http" }

// Translate implements Translator.
func (t *HTTPTranslator) Translate(ctx context.Context, text, language string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: text, Language: language})
	if err != nil {
		return "", newError(text, language, 0, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", newError(text, language, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", newError(text, language, 0, fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", newError(text, language, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Warn().
			Int("status", resp.StatusCode).
			Str("language", language).
			Msg("Translation endpoint returned error status")
		return "", newError(text, language, resp.StatusCode, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(payload))))
	}

	return strings.TrimSpace(string(payload)), nil
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/uday68/VyaparMitra-sub002/internal/platform/timeouts"
)

// Translator converts message content between the two parties' languages.
// Implementations must be safe for concurrent use.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
}

// HTTPTranslator calls an external translation service over HTTP.
type HTTPTranslator struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTranslator returns nil when no base URL is configured, leaving
// messages untranslated rather than failing message delivery.
func NewHTTPTranslator(baseURL string) *HTTPTranslator {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	return &HTTPTranslator{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeouts.Translate,
		},
	}
}

func (t *HTTPTranslator) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	if t == nil || t.httpClient == nil {
		return "", errors.New("translator is not configured")
	}

	body, err := json.Marshal(translateRequest{
		Text:           text,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
	})
	if err != nil {
		return "", fmt.Errorf("encode translate request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeouts.Translate)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call translation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translation service status %d", resp.StatusCode)
	}

	var payload translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode translate response: %w", err)
	}
	if strings.TrimSpace(payload.TranslatedText) == "" {
		return "", errors.New("translation service returned empty text")
	}
	return payload.TranslatedText, nil
}

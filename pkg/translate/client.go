package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Result carries a translation response from the external engine.
type Result struct {
	OriginalText     string `json:"originalText"`
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage string `json:"detectedLanguage"`
	TargetLanguage   string `json:"targetLanguage"`
}

// Client calls a LibreTranslate-compatible endpoint. The core treats the
// engine as an opaque collaborator and performs no retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a translation client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type translateResponse struct {
	TranslatedText   string `json:"translatedText"`
	DetectedLanguage *struct {
		Language string `json:"language"`
	} `json:"detectedLanguage"`
}

// Translate sends text to the engine with source auto-detection.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (*Result, error) {
	if targetLanguage == "" {
		targetLanguage = "en"
	}
	payload, err := json.Marshal(translateRequest{
		Q:      text,
		Source: "auto",
		Target: targetLanguage,
		Format: "text",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call translation engine: %w", err)
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("translation failed: %s", res.Status)
	}

	var body translateResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode translation response: %w", err)
	}

	detected := "unknown"
	if body.DetectedLanguage != nil && body.DetectedLanguage.Language != "" {
		detected = body.DetectedLanguage.Language
	}

	return &Result{
		OriginalText:     text,
		TranslatedText:   body.TranslatedText,
		DetectedLanguage: detected,
		TargetLanguage:   targetLanguage,
	}, nil
}

package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxResponseBytes = 10 << 20 // 10 MB

// Config contains recognizer client configuration.
type Config struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// HTTPClient talks to the external NER service over its JSON API. One
// request analyzes one document with one model; the detector batches
// fields sharing a model into a single call.
type HTTPClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates a recognizer client for the given endpoint.
func NewHTTPClient(cfg Config, logger *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type analyzeRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type analyzeResponse struct {
	Spans []Span `json:"spans"`
}

// Recognize implements Client.
func (c *HTTPClient) Recognize(ctx context.Context, model, text string) ([]Span, error) {
	body, err := json.Marshal(analyzeRequest{Model: model, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognizer unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read recognizer response: %w", err)
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse recognizer response: %w", err)
	}

	// Discard spans the model reported outside the document bounds.
	spans := parsed.Spans[:0]
	for _, s := range parsed.Spans {
		if s.Valid(len(text)) {
			spans = append(spans, s)
		}
	}

	c.logger.Debug("Recognizer call completed",
		zap.String("model", model),
		zap.Int("spans", len(spans)),
		zap.Duration("duration", time.Since(start)),
	)

	return spans, nil
}

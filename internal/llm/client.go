// Package llm talks to the external language-model collaborator. The
// text it forwards has already passed the integrity gate, so by
// construction no original sensitive value ever leaves this process
// through it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/guard"
)

// instruction primes the model to answer questions about masked
// entities by echoing the placeholder token instead of guessing the
// real data.
const instruction = "Sensitive entities in this text were replaced with placeholder tokens " +
	"of the form <type:TOKEN_xxx>. When answering about a masked entity, reuse the " +
	"corresponding token exactly as written; never invent or guess the underlying value. " +
	"Do not refuse, do not add security advice, do not rephrase the question."

// Config contains language-model client configuration.
type Config struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Model     string        `yaml:"model" mapstructure:"model"`
	MaxTokens int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// ChatClient calls an OpenAI-style chat-completions endpoint.
type ChatClient struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewChatClient creates a chat-completions client.
func NewChatClient(cfg Config, logger *zap.Logger) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements guard.LanguageModel.
func (c *ChatClient) Complete(ctx context.Context, text string) (guard.Completion, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: instruction + "\n\n" + text},
		},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return guard.Completion{}, fmt.Errorf("failed to encode chat request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return guard.Completion{}, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return guard.Completion{}, fmt.Errorf("language model unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return guard.Completion{}, fmt.Errorf("failed to read model response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return guard.Completion{}, fmt.Errorf("failed to parse model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return guard.Completion{}, fmt.Errorf("language model error: %s", parsed.Error.Message)
		}
		return guard.Completion{}, fmt.Errorf("language model returned HTTP %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return guard.Completion{}, fmt.Errorf("language model returned no choices")
	}

	c.logger.Debug("Model call completed",
		zap.String("model", c.cfg.Model),
		zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
		zap.Int("completion_tokens", parsed.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return guard.Completion{
		Content:          strings.TrimSpace(parsed.Choices[0].Message.Content),
		Model:            c.cfg.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// EchoClient stands in when no upstream model is configured: it returns
// the approved masked text untouched, so finalize restores the original
// values and the round trip still holds.
type EchoClient struct{}

// NewEchoClient creates the pass-through client.
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

// Complete implements guard.LanguageModel.
func (c *EchoClient) Complete(_ context.Context, text string) (guard.Completion, error) {
	return guard.Completion{Content: text, Model: "echo"}, nil
}

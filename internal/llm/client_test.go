package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestEchoClient(t *testing.T) {
	out, err := NewEchoClient().Complete(context.Background(), "hello <name:TOKEN_ab12cd34>")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out.Content != "hello <name:TOKEN_ab12cd34>" {
		t.Errorf("Echo altered the text: %q", out.Content)
	}
	if out.Model != "echo" {
		t.Errorf("Model = %q", out.Model)
	}
}

func TestChatClient(t *testing.T) {
	t.Run("SuccessfulCompletion", func(t *testing.T) {
		var gotAuth string
		var gotBody chatRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/chat/completions" {
				t.Errorf("Unexpected path %s", r.URL.Path)
			}
			gotAuth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("Bad request body: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"choices":[{"message":{"role":"assistant","content":"  The token is <name:TOKEN_ab12cd34>.  "}}],
				"usage":{"prompt_tokens":42,"completion_tokens":7}
			}`))
		}))
		defer srv.Close()

		client := NewChatClient(Config{
			BaseURL: srv.URL,
			APIKey:  "sk-test",
			Model:   "gpt-4o-mini",
		}, zap.NewNop())

		out, err := client.Complete(context.Background(), "Who is <name:TOKEN_ab12cd34>?")
		if err != nil {
			t.Fatalf("Complete failed: %v", err)
		}
		if gotAuth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", gotAuth)
		}
		if len(gotBody.Messages) != 2 || !strings.Contains(gotBody.Messages[1].Content, "Who is <name:TOKEN_ab12cd34>?") {
			t.Errorf("Prompt not forwarded: %+v", gotBody.Messages)
		}
		if out.Content != "The token is <name:TOKEN_ab12cd34>." {
			t.Errorf("Content = %q", out.Content)
		}
		if out.PromptTokens != 42 || out.CompletionTokens != 7 {
			t.Errorf("Usage = %d/%d", out.PromptTokens, out.CompletionTokens)
		}
	})

	t.Run("UpstreamErrorSurfaced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
		}))
		defer srv.Close()

		client := NewChatClient(Config{BaseURL: srv.URL, Model: "gpt-4o-mini"}, zap.NewNop())
		_, err := client.Complete(context.Background(), "hello")
		if err == nil || !strings.Contains(err.Error(), "invalid api key") {
			t.Errorf("Expected upstream error message, got %v", err)
		}
	})

	t.Run("EmptyChoicesRejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[],"usage":{}}`))
		}))
		defer srv.Close()

		client := NewChatClient(Config{BaseURL: srv.URL, Model: "gpt-4o-mini"}, zap.NewNop())
		if _, err := client.Complete(context.Background(), "hello"); err == nil {
			t.Error("Expected an error for an empty choices list")
		}
	})
}

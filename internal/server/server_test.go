package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/config"
	"github.com/jbellec/veilguard/internal/guard"
	"github.com/jbellec/veilguard/internal/history"
	"github.com/jbellec/veilguard/internal/logger"
	"github.com/jbellec/veilguard/internal/recognizer"
)

type stubStore struct {
	snap    *guard.Snapshot
	reloads int
}

func (s *stubStore) Snapshot(ctx context.Context) (*guard.Snapshot, error) { return s.snap, nil }
func (s *stubStore) Reload(ctx context.Context) error                      { s.reloads++; return nil }
func (s *stubStore) Close() error                                          { return nil }

type stubRecognizer struct{}

func (stubRecognizer) Recognize(ctx context.Context, model, text string) ([]recognizer.Span, error) {
	return nil, nil
}

type echoModel struct{}

func (echoModel) Complete(_ context.Context, text string) (guard.Completion, error) {
	return guard.Completion{Content: text, Model: "echo"}, nil
}

type memRecorder struct {
	records []*history.Record
}

func (m *memRecorder) Record(ctx context.Context, rec *history.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func testSnapshot() *guard.Snapshot {
	patterns := map[string]guard.PatternDef{
		"email": {Name: "email", Pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`},
	}
	return &guard.Snapshot{
		Profiles: map[string]guard.Profile{
			"InfoPerso": {
				Name:        "InfoPerso",
				DisplayName: "Contact details",
				Fields: []guard.FieldConfig{
					{FieldName: "email", DetectionType: guard.DetectionRegex, PatternRef: "email", Priority: 10, Example: "a@b.fr"},
				},
			},
		},
		Patterns: patterns,
		Registry: guard.NewRegistry(patterns, zap.NewNop()),
		LoadedAt: time.Now(),
	}
}

func newTestServer(t *testing.T, recorder history.Recorder) (*Server, *stubStore) {
	t.Helper()
	log := &logger.Logger{Logger: zap.NewNop()}
	cfg := config.GetDefaults()
	cfg.Guard.TokenKey = "test-key"
	cfg.Security.RateLimit.Enabled = false
	cfg.WebSocket.Enabled = false

	store := &stubStore{snap: testSnapshot()}
	tokenizer := guard.NewTokenizer(cfg.Guard.TokenKey, log.Logger)
	entity := guard.NewEntityDetector(stubRecognizer{}, log.Logger)
	service := guard.NewService(store, entity, echoModel{}, tokenizer, log.Logger)

	if recorder == nil {
		recorder = history.NopRecorder{}
	}
	return New(cfg, log, service, store, recorder, nil), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMaskEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	t.Run("MasksAndReturnsTokens", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/v1/mask", maskRequest{
			GuardType: "InfoPerso",
			Text:      "Please write to jean@exemple.fr today.",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp maskResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Bad response JSON: %v", err)
		}
		if strings.Contains(resp.MaskedText, "jean@exemple.fr") {
			t.Errorf("Value leaked: %q", resp.MaskedText)
		}
		if resp.Original != "Please write to jean@exemple.fr today." {
			t.Errorf("Original text not echoed back: %q", resp.Original)
		}
		if len(resp.Tokens) != 1 {
			t.Fatalf("Expected 1 token entry, got %d", len(resp.Tokens))
		}
		if resp.Tokens[0].Value != "jean@exemple.fr" {
			t.Errorf("Token map value wrong: %+v", resp.Tokens[0])
		}
		if !strings.Contains(rec.Body.String(), "<email:TOKEN_") {
			t.Errorf("Token brackets escaped on the wire: %s", rec.Body.String())
		}
	})

	t.Run("EmptyTextRejected", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/v1/mask", maskRequest{GuardType: "InfoPerso"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("UnknownGuardTypeIs404", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/v1/mask", maskRequest{GuardType: "Nope", Text: "x"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("MalformedBodyRejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/mask", strings.NewReader("{oops"))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status = %d", rec.Code)
		}
	})
}

func TestFinalizeEndpoint(t *testing.T) {
	recorder := &memRecorder{}
	srv, _ := newTestServer(t, recorder)

	mask := doJSON(t, srv.Handler(), "POST", "/v1/mask", maskRequest{
		GuardType: "InfoPerso",
		Text:      "Please write to jean@exemple.fr today.",
	})
	var masked maskResponse
	if err := json.Unmarshal(mask.Body.Bytes(), &masked); err != nil {
		t.Fatal(err)
	}

	t.Run("RoundTrip", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/v1/finalize", finalizeRequest{
			GuardType:  "InfoPerso",
			MaskedText: masked.MaskedText,
			Tokens:     masked.Tokens,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, body %s", rec.Code, rec.Body.String())
		}
		var result guard.FinalizeResult
		if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(result.Unmasked, "jean@exemple.fr") {
			t.Errorf("Value not restored: %q", result.Unmasked)
		}
		if len(recorder.records) != 1 {
			t.Fatalf("Expected 1 history record, got %d", len(recorder.records))
		}
		stored := recorder.records[0]
		if strings.Contains(stored.MaskedText, "jean@exemple.fr") {
			t.Error("History record contains an unmasked value")
		}
		if stored.MaskedTokenCount != 1 {
			t.Errorf("History token count = %d", stored.MaskedTokenCount)
		}
	})

	t.Run("IntegrityViolationIs422", func(t *testing.T) {
		edited := strings.ReplaceAll(masked.MaskedText, masked.Tokens[0].Token, "someone")
		rec := doJSON(t, srv.Handler(), "POST", "/v1/finalize", finalizeRequest{
			GuardType:  "InfoPerso",
			MaskedText: edited + " plus <fake:TOKEN_ffffffff>",
			Tokens:     masked.Tokens,
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("Status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Missing) != 1 || len(resp.Unknown) != 1 {
			t.Errorf("Expected 1 missing and 1 unknown, got %+v", resp)
		}
		if strings.Contains(rec.Body.String(), "jean@exemple.fr") {
			t.Error("Integrity response leaks a value")
		}
	})
}

func TestProcessEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), "POST", "/v1/process", processRequest{
		GuardType: "InfoPerso",
		Text:      "Please write to jean@exemple.fr today.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp processResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(resp.MaskedText, "jean@exemple.fr") {
		t.Error("Masked text leaks the value")
	}
	if resp.Original != "Please write to jean@exemple.fr today." {
		t.Errorf("Original text not echoed back: %q", resp.Original)
	}
	if resp.Result == nil || !strings.Contains(resp.Result.Unmasked, "jean@exemple.fr") {
		t.Errorf("One-shot result not restored: %+v", resp.Result)
	}
}

func TestProfileEndpoints(t *testing.T) {
	srv, store := newTestServer(t, nil)

	t.Run("List", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "GET", "/v1/profiles", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "InfoPerso") {
			t.Errorf("Profile listing missing entry: %s", rec.Body.String())
		}
	})

	t.Run("GetKnown", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "GET", "/v1/profiles/InfoPerso", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		var p guard.Profile
		if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
			t.Fatal(err)
		}
		if len(p.Fields) != 1 || p.Fields[0].FieldName != "email" {
			t.Errorf("Profile payload wrong: %+v", p)
		}
	})

	t.Run("GetUnknownIs404", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "GET", "/v1/profiles/Ghost", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Status = %d", rec.Code)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/v1/profiles/reload", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		if store.reloads != 1 {
			t.Errorf("Reload not forwarded to the store: %d", store.reloads)
		}
	})

	t.Run("Example", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "GET", "/v1/examples/InfoPerso", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "a@b.fr") {
			t.Errorf("Example text missing field example: %s", rec.Body.String())
		}
	})
}

func TestHealthAndInfo(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Health status = %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), "GET", "/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Info status = %d", rec.Code)
	}
	var info map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info["name"] != "veilguard" {
		t.Errorf("Info payload: %v", info)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	log := &logger.Logger{Logger: zap.NewNop()}
	cfg := config.GetDefaults()
	cfg.Guard.TokenKey = "test-key"
	cfg.WebSocket.Enabled = false
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.RPS = 1
	cfg.Security.RateLimit.Burst = 2

	store := &stubStore{snap: testSnapshot()}
	tokenizer := guard.NewTokenizer(cfg.Guard.TokenKey, log.Logger)
	entity := guard.NewEntityDetector(stubRecognizer{}, log.Logger)
	service := guard.NewService(store, entity, echoModel{}, tokenizer, log.Logger)
	srv := New(cfg, log, service, store, history.NopRecorder{}, nil)

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/v1/profiles", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Errorf("Burst exhausted requests should be limited, got %d", lastCode)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest("GET", "/v1/profiles", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code == http.StatusTooManyRequests {
		t.Error("Rate limit must be per client")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), "GET", "/v1/profiles", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Missing X-Request-ID header")
	}
}

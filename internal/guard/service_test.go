package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/recognizer"
)

// fakeStore serves a fixed snapshot.
type fakeStore struct {
	snap *Snapshot
	err  error
}

func (f *fakeStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	return f.snap, f.err
}

// fakeRecognizer returns canned spans per model.
type fakeRecognizer struct {
	spans map[string][]recognizer.Span
	err   error
	calls int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, model, text string) ([]recognizer.Span, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.spans[model], nil
}

// fakeModel echoes with a templated answer and fixed usage.
type fakeModel struct {
	respond func(text string) string
	err     error
	lastIn  string
}

func (f *fakeModel) Complete(ctx context.Context, text string) (Completion, error) {
	f.lastIn = text
	if f.err != nil {
		return Completion{}, f.err
	}
	content := text
	if f.respond != nil {
		content = f.respond(text)
	}
	return Completion{
		Content:          content,
		Model:            "fake-model",
		PromptTokens:     10,
		CompletionTokens: 20,
	}, nil
}

func identitySnapshot(t *testing.T) *Snapshot {
	t.Helper()
	patterns := map[string]PatternDef{
		"person_name": {
			Name:    "person_name",
			Pattern: `\b[A-Z][a-z]+\s[A-Z][a-z]+\b`,
			Flags:   "-",
		},
		"date_generic": {
			Name:    "date_generic",
			Pattern: `\b\d{2}/\d{2}/\d{4}\b`,
		},
		"email": {
			Name:    "email",
			Pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
		},
	}
	profiles := map[string]Profile{
		"TypeA": {
			Name: "TypeA",
			Fields: []FieldConfig{
				{FieldName: "name", DetectionType: DetectionHybrid, PatternRef: "person_name", EntityModel: "fr_core", EntityType: "PERSON", ConfidenceThreshold: 0.6, Priority: 20},
				{FieldName: "birth_date", DetectionType: DetectionRegex, PatternRef: "date_generic", Priority: 10},
			},
		},
		"InfoPerso": {
			Name: "InfoPerso",
			Fields: []FieldConfig{
				{FieldName: "email", DetectionType: DetectionRegex, PatternRef: "email", Priority: 10},
				{FieldName: "company", DetectionType: DetectionNER, EntityModel: "fr_core", EntityType: "ORGANIZATION", ConfidenceThreshold: 0.6, Priority: 20},
			},
		},
	}
	return &Snapshot{
		Profiles: profiles,
		Patterns: patterns,
		Registry: NewRegistry(patterns, zap.NewNop()),
		LoadedAt: time.Now(),
	}
}

func newTestService(store ProfileStore, rec recognizer.Client, model LanguageModel) *Service {
	logger := zap.NewNop()
	return NewService(
		store,
		NewEntityDetector(rec, logger),
		model,
		NewTokenizer("test-key", logger),
		logger,
	)
}

func TestServiceMask(t *testing.T) {
	t.Run("HybridCorroboration", func(t *testing.T) {
		text := "Jean Dupont, né le 15/03/1980"
		nameStart := strings.Index(text, "Jean Dupont")
		rec := &fakeRecognizer{spans: map[string][]recognizer.Span{
			"fr_core": {{Start: nameStart, End: nameStart + len("Jean Dupont"), Label: "PERSON", Score: 0.95}},
		}}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, &fakeModel{})

		doc, err := svc.Mask(context.Background(), text, "TypeA")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		if strings.Contains(doc.Masked, "Jean Dupont") || strings.Contains(doc.Masked, "15/03/1980") {
			t.Errorf("Sensitive values survived masking: %q", doc.Masked)
		}
		if !strings.Contains(doc.Masked, "<name:TOKEN_") {
			t.Errorf("Name not masked: %q", doc.Masked)
		}
		if !strings.Contains(doc.Masked, "<birth_date:TOKEN_") {
			t.Errorf("Birth date not masked: %q", doc.Masked)
		}
		if !strings.Contains(doc.Masked, ", né le ") {
			t.Errorf("Untouched prose altered: %q", doc.Masked)
		}
		if doc.Tokens.Len() != 2 {
			t.Errorf("Expected 2 tokens, got %d", doc.Tokens.Len())
		}
		if len(doc.Warnings) != 0 {
			t.Errorf("Unexpected warnings: %v", doc.Warnings)
		}
		if Detokenize(doc.Masked, doc.Tokens) != text {
			t.Error("Masking is not reversible")
		}
	})

	t.Run("RemaskingIsIdempotent", func(t *testing.T) {
		text := "Jean Dupont, né le 15/03/1980"
		rec := &fakeRecognizer{spans: map[string][]recognizer.Span{
			"fr_core": {{Start: 0, End: 11, Label: "PERSON", Score: 0.95}},
		}}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, &fakeModel{})

		first, err := svc.Mask(context.Background(), text, "TypeA")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		second, err := svc.Mask(context.Background(), text, "TypeA")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		if first.Masked != second.Masked {
			t.Errorf("Remasking the same text diverged:\n  %q\n  %q", first.Masked, second.Masked)
		}
	})

	t.Run("UnknownGuardType", func(t *testing.T) {
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, &fakeRecognizer{}, &fakeModel{})
		_, err := svc.Mask(context.Background(), "hello", "NopeType")
		var unknown *UnknownGuardTypeError
		if !errors.As(err, &unknown) {
			t.Fatalf("Expected UnknownGuardTypeError, got %v", err)
		}
		if unknown.Name != "NopeType" {
			t.Errorf("Error names wrong type: %s", unknown.Name)
		}
	})

	t.Run("RecognizerFailureIsNonFatal", func(t *testing.T) {
		rec := &fakeRecognizer{err: fmt.Errorf("connection refused")}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, &fakeModel{})

		text := "Write to staff@acme.fr about the audit."
		doc, err := svc.Mask(context.Background(), text, "InfoPerso")
		if err != nil {
			t.Fatalf("Mask must not fail on recognizer outage: %v", err)
		}
		if !strings.Contains(doc.Masked, "<email:TOKEN_") {
			t.Errorf("Regex detection must proceed: %q", doc.Masked)
		}
		if len(doc.Warnings) == 0 {
			t.Fatal("Expected a detection warning for the entity field")
		}
		w := doc.Warnings[0]
		if w.FieldName != "company" || w.Stage != StageDetection {
			t.Errorf("Warning misattributed: %+v", w)
		}
	})

	t.Run("BelowThresholdSpanIgnored", func(t *testing.T) {
		text := "The Acme Corp report"
		rec := &fakeRecognizer{spans: map[string][]recognizer.Span{
			"fr_core": {{Start: 4, End: 13, Label: "ORGANIZATION", Score: 0.3}},
		}}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, &fakeModel{})

		doc, err := svc.Mask(context.Background(), text, "InfoPerso")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		if doc.Tokens.Len() != 0 {
			t.Errorf("Low-confidence span must be ignored: %q", doc.Masked)
		}
	})

	t.Run("OutOfRangeSpanIgnored", func(t *testing.T) {
		text := "Contact jean@exemple.fr"
		rec := &fakeRecognizer{spans: map[string][]recognizer.Span{
			"fr_core": {
				{Start: 5, End: len(text) + 40, Label: "ORGANIZATION", Score: 0.95},
				{Start: -3, End: 4, Label: "ORGANIZATION", Score: 0.95},
			},
		}}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, &fakeModel{})

		doc, err := svc.Mask(context.Background(), text, "InfoPerso")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		if strings.Contains(doc.Masked, "jean@exemple.fr") {
			t.Errorf("Email not masked: %q", doc.Masked)
		}
		if doc.Tokens.Len() != 1 {
			t.Errorf("Out-of-range spans must be dropped, got %d tokens", doc.Tokens.Len())
		}
	})
}

func TestServiceFinalize(t *testing.T) {
	text := "Jean Dupont, né le 15/03/1980"
	rec := &fakeRecognizer{spans: map[string][]recognizer.Span{
		"fr_core": {{Start: 0, End: 11, Label: "PERSON", Score: 0.95}},
	}}

	t.Run("RoundTripThroughModel", func(t *testing.T) {
		model := &fakeModel{respond: func(masked string) string {
			return "Summary: " + masked
		}}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, model)

		doc, err := svc.Mask(context.Background(), text, "TypeA")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		result, err := svc.Finalize(context.Background(), "TypeA", doc.Masked, doc.Tokens)
		if err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
		if strings.Contains(model.lastIn, "Jean Dupont") {
			t.Error("Original value leaked to the model")
		}
		if !strings.Contains(result.Unmasked, "Jean Dupont") || !strings.Contains(result.Unmasked, "15/03/1980") {
			t.Errorf("Values not restored: %q", result.Unmasked)
		}
		if strings.Contains(result.Unmasked, "TOKEN_") {
			t.Errorf("Tokens survived restoration: %q", result.Unmasked)
		}
		if result.Model != "fake-model" || result.TotalTokens != 30 {
			t.Errorf("Usage accounting wrong: %+v", result)
		}
		if result.MaskedTokenCount != 2 {
			t.Errorf("MaskedTokenCount = %d, want 2", result.MaskedTokenCount)
		}
	})

	t.Run("IntegrityGateBlocksBeforeModelCall", func(t *testing.T) {
		model := &fakeModel{}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, model)

		doc, err := svc.Mask(context.Background(), text, "TypeA")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		// Reviewer deletes the name token entirely.
		nameToken := doc.Tokens.Tokens()[0]
		edited := strings.ReplaceAll(doc.Masked, nameToken, "someone")

		_, err = svc.Finalize(context.Background(), "TypeA", edited, doc.Tokens)
		var integrity *IntegrityError
		if !errors.As(err, &integrity) {
			t.Fatalf("Expected IntegrityError, got %v", err)
		}
		if len(integrity.Missing) != 1 || integrity.Missing[0] != nameToken {
			t.Errorf("Missing = %v", integrity.Missing)
		}
		if model.lastIn != "" {
			t.Error("Model must not be called after an integrity rejection")
		}
		if strings.Contains(err.Error(), "Jean Dupont") {
			t.Error("Error text leaks an original value")
		}
	})

	t.Run("ModelFailureWrapped", func(t *testing.T) {
		model := &fakeModel{err: fmt.Errorf("upstream timeout")}
		svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, model)

		doc, err := svc.Mask(context.Background(), text, "TypeA")
		if err != nil {
			t.Fatalf("Mask failed: %v", err)
		}
		_, err = svc.Finalize(context.Background(), "TypeA", doc.Masked, doc.Tokens)
		var upstream *UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("Expected UpstreamError, got %v", err)
		}
	})
}

func TestServiceProcess(t *testing.T) {
	rec := &fakeRecognizer{spans: map[string][]recognizer.Span{
		"fr_core": {{Start: 0, End: 11, Label: "PERSON", Score: 0.95}},
	}}
	model := &fakeModel{respond: func(masked string) string {
		return "Noted: " + masked
	}}
	svc := newTestService(&fakeStore{snap: identitySnapshot(t)}, rec, model)

	out, err := svc.Process(context.Background(), "Jean Dupont, né le 15/03/1980", "TypeA")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.Contains(out.Final.Unmasked, "Jean Dupont") {
		t.Errorf("One-shot path did not restore values: %q", out.Final.Unmasked)
	}
	if strings.Contains(model.lastIn, "Jean Dupont") {
		t.Error("One-shot path leaked the original value upstream")
	}
	if out.Document.Tokens.Len() != 2 {
		t.Errorf("Expected 2 tokens, got %d", out.Document.Tokens.Len())
	}
}

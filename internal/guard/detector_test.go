package guard

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	logger := zap.NewNop()

	t.Run("CaseInsensitiveByDefault", func(t *testing.T) {
		reg := NewRegistry(map[string]PatternDef{
			"word": {Name: "word", Pattern: `confidential`},
		}, logger)
		re, ok := reg.Lookup("word")
		if !ok {
			t.Fatal("Pattern missing from registry")
		}
		if !re.MatchString("This is CONFIDENTIAL material") {
			t.Error("Default compilation must be case-insensitive")
		}
	})

	t.Run("ExplicitFlagsOverride", func(t *testing.T) {
		reg := NewRegistry(map[string]PatternDef{
			"strict": {Name: "strict", Pattern: `Secret`, Flags: "-"},
		}, logger)
		re, _ := reg.Lookup("strict")
		if re.MatchString("secret") {
			t.Error("Flags '-' must compile case-sensitive")
		}
		if !re.MatchString("Secret") {
			t.Error("Pattern lost its literal match")
		}
	})

	t.Run("InvalidPatternSkipped", func(t *testing.T) {
		reg := NewRegistry(map[string]PatternDef{
			"bad":  {Name: "bad", Pattern: `([unclosed`},
			"good": {Name: "good", Pattern: `ok`},
		}, logger)
		if _, ok := reg.Lookup("bad"); ok {
			t.Error("Invalid pattern must be skipped, not kept")
		}
		if _, ok := reg.Lookup("good"); !ok {
			t.Error("Valid sibling pattern lost")
		}
		if reg.Len() != 1 {
			t.Errorf("Len = %d, want 1", reg.Len())
		}
	})
}

func TestRegexDetector(t *testing.T) {
	logger := zap.NewNop()
	reg := NewRegistry(map[string]PatternDef{
		"email": {Name: "email", Pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`},
	}, logger)
	det := NewRegexDetector(reg, logger)

	t.Run("AllOccurrencesMatched", func(t *testing.T) {
		fields := []FieldConfig{
			{FieldName: "email", DetectionType: DetectionRegex, PatternRef: "email", Priority: 10},
		}
		text := "cc a@b.fr and c@d.fr please"
		matches, warnings := det.Detect(context.Background(), text, fields)
		if len(warnings) != 0 {
			t.Fatalf("Unexpected warnings: %v", warnings)
		}
		if len(matches) != 2 {
			t.Fatalf("Expected 2 matches, got %d", len(matches))
		}
		for _, m := range matches {
			if m.Source != SourceRegex || m.Confidence != 1.0 {
				t.Errorf("Regex match metadata wrong: %+v", m)
			}
			if text[m.Start:m.End] != m.Value {
				t.Errorf("Span/value mismatch: %+v", m)
			}
		}
	})

	t.Run("MissingPatternRefWarns", func(t *testing.T) {
		fields := []FieldConfig{
			{FieldName: "ghost", DetectionType: DetectionRegex, PatternRef: "nope", Priority: 10},
		}
		matches, warnings := det.Detect(context.Background(), "anything", fields)
		if len(matches) != 0 {
			t.Errorf("Unexpected matches: %+v", matches)
		}
		if len(warnings) != 1 || warnings[0].Stage != StageConfig || warnings[0].FieldName != "ghost" {
			t.Fatalf("Expected one configuration warning, got %v", warnings)
		}
	})

	t.Run("EntityOnlyFieldIgnored", func(t *testing.T) {
		fields := []FieldConfig{
			{FieldName: "person", DetectionType: DetectionNER, EntityType: "PERSON", Priority: 10},
		}
		matches, warnings := det.Detect(context.Background(), "Jean Dupont", fields)
		if len(matches) != 0 || len(warnings) != 0 {
			t.Errorf("NER-only field must be skipped by the regex strategy: %v %v", matches, warnings)
		}
	})
}

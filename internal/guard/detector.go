package guard

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Detector is one detection strategy. Implementations are pure with
// respect to shared state: they only read the text and their slice of
// the field configuration, so the strategies can run concurrently
// within one transaction.
//
// A failure scoped to a single field (unresolvable pattern, recognizer
// error) never aborts the document; the field is skipped and surfaced
// as a warning.
type Detector interface {
	Detect(ctx context.Context, text string, fields []FieldConfig) ([]Match, []Warning)
}

// RegexDetector applies compiled catalog patterns to the full text for
// every field configured with regex or hybrid detection.
type RegexDetector struct {
	registry *Registry
	logger   *zap.Logger
}

// NewRegexDetector creates a regex detector over a compiled registry.
func NewRegexDetector(registry *Registry, logger *zap.Logger) *RegexDetector {
	return &RegexDetector{registry: registry, logger: logger}
}

// Detect implements Detector. Each pattern is scanned greedily
// left-to-right by the pattern engine itself; one Match is emitted per
// non-overlapping occurrence, with confidence fixed at 1.0.
func (d *RegexDetector) Detect(_ context.Context, text string, fields []FieldConfig) ([]Match, []Warning) {
	var matches []Match
	var warnings []Warning

	for _, field := range fields {
		if field.DetectionType != DetectionRegex && field.DetectionType != DetectionHybrid {
			continue
		}
		if field.PatternRef == "" {
			warnings = append(warnings, Warning{
				FieldName: field.FieldName,
				Stage:     StageConfig,
				Message:   "no pattern reference configured",
			})
			continue
		}
		re, ok := d.registry.Lookup(field.PatternRef)
		if !ok {
			warnings = append(warnings, Warning{
				FieldName: field.FieldName,
				Stage:     StageConfig,
				Message:   fmt.Sprintf("pattern %q not found in registry", field.PatternRef),
			})
			continue
		}

		locs := re.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			if loc[0] == loc[1] {
				continue // zero-width match, nothing to mask
			}
			matches = append(matches, Match{
				FieldName:  field.FieldName,
				Start:      loc[0],
				End:        loc[1],
				Value:      text[loc[0]:loc[1]],
				Confidence: 1.0,
				Source:     SourceRegex,
				Priority:   field.Priority,
			})
		}
		if len(locs) > 0 {
			d.logger.Debug("Regex field matched",
				zap.String("field", field.FieldName),
				zap.String("pattern", field.PatternRef),
				zap.Int("count", len(locs)),
			)
		}
	}

	return matches, warnings
}

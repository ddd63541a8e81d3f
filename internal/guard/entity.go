package guard

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/recognizer"
)

// EntityDetector delegates to the external recognition capability for
// fields configured with ner or hybrid detection. Fields sharing a
// model are batched into a single recognizer call per document.
type EntityDetector struct {
	client recognizer.Client
	logger *zap.Logger
}

// NewEntityDetector creates an entity detector over a recognizer
// client. Wrap the client with the span cache decorator to avoid
// repeated inference on identical documents.
func NewEntityDetector(client recognizer.Client, logger *zap.Logger) *EntityDetector {
	return &EntityDetector{client: client, logger: logger}
}

// Detect implements Detector. A recognizer failure is scoped to every
// field of the affected model; other models and the regex strategy are
// unaffected.
func (d *EntityDetector) Detect(ctx context.Context, text string, fields []FieldConfig) ([]Match, []Warning) {
	var matches []Match
	var warnings []Warning

	byModel := make(map[string][]FieldConfig)
	for _, field := range fields {
		if field.DetectionType != DetectionNER && field.DetectionType != DetectionHybrid {
			continue
		}
		if field.EntityType == "" {
			warnings = append(warnings, Warning{
				FieldName: field.FieldName,
				Stage:     StageConfig,
				Message:   "no entity type configured",
			})
			continue
		}
		byModel[field.EntityModel] = append(byModel[field.EntityModel], field)
	}

	// Deterministic call order regardless of map iteration.
	models := make([]string, 0, len(byModel))
	for model := range byModel {
		models = append(models, model)
	}
	sort.Strings(models)

	for _, model := range models {
		modelFields := byModel[model]
		spans, err := d.client.Recognize(ctx, model, text)
		if err != nil {
			d.logger.Warn("Entity recognition failed",
				zap.String("model", model),
				zap.Error(err),
			)
			for _, field := range modelFields {
				warnings = append(warnings, Warning{
					FieldName: field.FieldName,
					Stage:     StageDetection,
					Message:   "recognizer unavailable: " + err.Error(),
				})
			}
			continue
		}

		// Offsets are re-checked here: a Client implementation is not
		// trusted to keep them inside the document.
		kept := make([]recognizer.Span, 0, len(spans))
		for _, span := range spans {
			if !span.Valid(len(text)) {
				d.logger.Warn("Recognizer span out of range",
					zap.String("model", model),
					zap.Int("start", span.Start),
					zap.Int("end", span.End),
				)
				continue
			}
			kept = append(kept, span)
		}

		for _, field := range modelFields {
			for _, span := range kept {
				if span.Label != field.EntityType {
					continue
				}
				if span.Score < field.ConfidenceThreshold {
					continue
				}
				matches = append(matches, Match{
					FieldName:  field.FieldName,
					Start:      span.Start,
					End:        span.End,
					Value:      text[span.Start:span.End],
					Confidence: span.Score,
					Source:     SourceNER,
					Priority:   field.Priority,
				})
			}
		}
	}

	return matches, warnings
}

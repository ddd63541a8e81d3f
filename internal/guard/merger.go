package guard

import (
	"sort"

	"go.uber.org/zap"
)

// Merger consolidates the candidate matches from both detectors into a
// final, non-overlapping, start-ordered list. The outcome is fully
// deterministic for identical inputs: masking the same document twice
// must mask the same spans.
type Merger struct {
	logger *zap.Logger
}

// NewMerger creates a match merger.
func NewMerger(logger *zap.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge resolves hybrid corroboration and cross-field overlaps.
//
// Hybrid fields: a regex match overlapping an entity match of the same
// field becomes a single corroborated match on the regex span. A hybrid
// match that only one strategy produced is kept at its own confidence
// rather than dropped; over-masking is preferred to under-masking.
//
// Overlaps across fields: the lower priority number wins, then the
// higher confidence, then the match found first in left-to-right scan
// order. The loser is dropped whole, never trimmed.
func (mg *Merger) Merge(textLen int, matches []Match, fields []FieldConfig) []Match {
	detectionType := make(map[string]DetectionType, len(fields))
	for _, f := range fields {
		detectionType[f.FieldName] = f.DetectionType
	}

	var candidates []Match
	for _, m := range matches {
		if m.valid(textLen) {
			candidates = append(candidates, m)
		}
	}

	candidates = mg.corroborateHybrids(candidates, detectionType)

	// Rank, then accept greedily: a candidate is kept only if it does
	// not overlap any already-accepted span.
	ranked := make([]Match, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End // prefer the longer span
		}
		if a.Source != b.Source {
			return a.Source == SourceRegex
		}
		return a.FieldName < b.FieldName
	})

	var accepted []Match
	for _, cand := range ranked {
		conflict := false
		for _, kept := range accepted {
			if cand.overlaps(kept) {
				conflict = true
				break
			}
		}
		if !conflict {
			accepted = append(accepted, cand)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].Start < accepted[j].Start
	})

	if dropped := len(candidates) - len(accepted); dropped > 0 {
		mg.logger.Debug("Overlapping matches dropped",
			zap.Int("kept", len(accepted)),
			zap.Int("dropped", dropped),
		)
	}

	return accepted
}

// corroborateHybrids folds overlapping regex+entity pairs of the same
// hybrid field into one corroborated match on the regex span. Entity
// matches consumed by a pairing are removed; everything else passes
// through untouched.
func (mg *Merger) corroborateHybrids(candidates []Match, detectionType map[string]DetectionType) []Match {
	consumed := make([]bool, len(candidates))
	out := make([]Match, 0, len(candidates))

	for i, m := range candidates {
		if consumed[i] {
			continue
		}
		if detectionType[m.FieldName] != DetectionHybrid || m.Source != SourceRegex {
			continue
		}
		for j, other := range candidates {
			if consumed[j] || j == i {
				continue
			}
			if other.FieldName != m.FieldName || other.Source != SourceNER {
				continue
			}
			if m.overlaps(other) {
				m.Corroborated = true
				consumed[j] = true
				// One corroborating span is enough; further entity
				// matches for the same field stay independent.
				break
			}
		}
		candidates[i] = m
	}

	for i, m := range candidates {
		if !consumed[i] {
			out = append(out, m)
		}
	}
	return out
}

package profile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/guard"
)

// Store extends the read-only snapshot view with lifecycle operations
// shared by the file and database backings.
type Store interface {
	guard.ProfileStore
	Reload(ctx context.Context) error
	Close() error
}

// buildSnapshot validates the loaded profiles against the pattern
// catalog and compiles the registry. Field-level problems are logged
// and the field is kept: it will surface as a configuration warning on
// the masking results that use it, which is more visible than silently
// dropping it here.
func buildSnapshot(profiles []guard.Profile, patterns []guard.PatternDef, logger *zap.Logger) (*guard.Snapshot, error) {
	patternIndex := make(map[string]guard.PatternDef, len(patterns))
	for _, p := range patterns {
		if p.Name == "" || p.Pattern == "" {
			return nil, fmt.Errorf("pattern catalog entry missing name or expression")
		}
		if _, dup := patternIndex[p.Name]; dup {
			return nil, fmt.Errorf("duplicate pattern %q in catalog", p.Name)
		}
		patternIndex[p.Name] = p
	}

	profileIndex := make(map[string]guard.Profile, len(profiles))
	for _, prof := range profiles {
		if prof.Name == "" {
			return nil, fmt.Errorf("guard profile with empty name")
		}
		if _, dup := profileIndex[prof.Name]; dup {
			return nil, fmt.Errorf("duplicate guard profile %q", prof.Name)
		}
		seen := make(map[string]bool, len(prof.Fields))
		for _, f := range prof.Fields {
			if seen[f.FieldName] {
				return nil, fmt.Errorf("guard profile %q: duplicate field %q", prof.Name, f.FieldName)
			}
			seen[f.FieldName] = true
			if !f.DetectionType.Valid() {
				return nil, fmt.Errorf("guard profile %q field %q: unknown detection type %q",
					prof.Name, f.FieldName, f.DetectionType)
			}
			if f.DetectionType != guard.DetectionNER {
				if _, ok := patternIndex[f.PatternRef]; !ok {
					logger.Warn("Field references unknown pattern",
						zap.String("profile", prof.Name),
						zap.String("field", f.FieldName),
						zap.String("pattern", f.PatternRef))
				}
			}
			if f.DetectionType != guard.DetectionRegex && f.EntityType == "" {
				logger.Warn("Entity field missing entity type",
					zap.String("profile", prof.Name),
					zap.String("field", f.FieldName))
			}
		}
		profileIndex[prof.Name] = prof
	}

	return &guard.Snapshot{
		Profiles: profileIndex,
		Patterns: patternIndex,
		Registry: guard.NewRegistry(patternIndex, logger),
		LoadedAt: time.Now(),
	}, nil
}

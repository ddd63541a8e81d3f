package guard

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Registry holds the compiled regex catalog. It is built once per
// configuration load, is read-only afterwards, and is safe for
// concurrent reads by any number of in-flight transactions.
type Registry struct {
	patterns map[string]*regexp.Regexp
}

// NewRegistry compiles every pattern in the catalog. Patterns are
// case-insensitive by default; per-pattern flags (i, m, s) override.
// A pattern that fails to compile is skipped and logged, never fatal:
// fields referencing it degrade to a configuration warning at detect
// time.
func NewRegistry(patterns map[string]PatternDef, logger *zap.Logger) *Registry {
	compiled := make(map[string]*regexp.Regexp, len(patterns))
	for name, def := range patterns {
		re, err := compilePattern(def)
		if err != nil {
			logger.Warn("Skipping invalid regex pattern",
				zap.String("pattern", name),
				zap.Error(err),
			)
			continue
		}
		compiled[name] = re
	}
	logger.Info("Pattern registry built",
		zap.Int("patterns", len(compiled)),
		zap.Int("rejected", len(patterns)-len(compiled)),
	)
	return &Registry{patterns: compiled}
}

// Lookup returns the compiled pattern for a catalog name.
func (r *Registry) Lookup(name string) (*regexp.Regexp, bool) {
	re, ok := r.patterns[name]
	return re, ok
}

// Len returns the number of usable compiled patterns.
func (r *Registry) Len() int {
	return len(r.patterns)
}

// compilePattern translates the catalog flag string into a regexp flag
// group. An empty flag string means case-insensitive, matching the
// catalog's historical default.
func compilePattern(def PatternDef) (*regexp.Regexp, error) {
	flags := def.Flags
	if flags == "" {
		flags = "i"
	}
	var b strings.Builder
	for _, f := range []struct {
		letter string
		mode   string
	}{{"i", "i"}, {"m", "m"}, {"s", "s"}} {
		if strings.Contains(flags, f.letter) {
			b.WriteString(f.mode)
		}
	}
	expr := def.Pattern
	if b.Len() > 0 {
		expr = fmt.Sprintf("(?%s)%s", b.String(), expr)
	}
	return regexp.Compile(expr)
}

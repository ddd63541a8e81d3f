package guard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DetectionType selects the strategy used for a configured field.
type DetectionType string

const (
	// DetectionRegex matches with a compiled pattern from the catalog.
	DetectionRegex DetectionType = "regex"
	// DetectionNER matches with the external entity recognizer.
	DetectionNER DetectionType = "ner"
	// DetectionHybrid requires cross-validation between both strategies
	// where possible, and falls back to the stronger single source.
	DetectionHybrid DetectionType = "hybrid"
)

// Valid reports whether t is one of the known detection types.
func (t DetectionType) Valid() bool {
	switch t {
	case DetectionRegex, DetectionNER, DetectionHybrid:
		return true
	}
	return false
}

// FieldConfig is one configured sensitive-data field inside a guard
// profile. It is immutable for the duration of a masking transaction;
// callers snapshot the profile before processing.
type FieldConfig struct {
	FieldName           string        `yaml:"field_name" json:"field_name" db:"field_name"`
	DisplayName         string        `yaml:"display_name" json:"display_name" db:"display_name"`
	DetectionType       DetectionType `yaml:"type" json:"type" db:"detection_type"`
	PatternRef          string        `yaml:"pattern,omitempty" json:"pattern,omitempty" db:"regex_pattern"`
	EntityModel         string        `yaml:"entity_model,omitempty" json:"entity_model,omitempty" db:"entity_model"`
	EntityType          string        `yaml:"entity_type,omitempty" json:"entity_type,omitempty" db:"ner_entity_type"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" json:"confidence_threshold" db:"confidence_threshold"`
	Priority            int           `yaml:"priority" json:"priority" db:"priority"`
	Example             string        `yaml:"example,omitempty" json:"example,omitempty" db:"example_value"`
}

// Profile is a named bundle of field configurations applied together.
type Profile struct {
	Name        string        `yaml:"name" json:"name"`
	DisplayName string        `yaml:"display_name" json:"display_name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []FieldConfig `yaml:"fields" json:"fields"`
}

// PatternDef is one named entry of the regex catalog.
type PatternDef struct {
	Name         string   `yaml:"name" json:"name"`
	DisplayName  string   `yaml:"display_name" json:"display_name"`
	Pattern      string   `yaml:"pattern" json:"pattern"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	TestExamples []string `yaml:"test_examples,omitempty" json:"test_examples,omitempty"`
	Flags        string   `yaml:"flags,omitempty" json:"flags,omitempty"`
}

// Snapshot is the immutable configuration view one masking transaction
// operates on. The registry is compiled once at load time and is safe
// for concurrent reads by any number of in-flight transactions.
type Snapshot struct {
	Profiles map[string]Profile
	Patterns map[string]PatternDef
	Registry *Registry
	LoadedAt time.Time
}

// MatchSource identifies which detector produced a match.
type MatchSource string

const (
	SourceRegex MatchSource = "regex"
	SourceNER   MatchSource = "ner"
)

// Match is a candidate detection: a half-open byte range [Start, End)
// into the source text, the exact substring, and the producing
// strategy. Confidence is 1.0 for pure regex matches.
type Match struct {
	FieldName    string      `json:"field_name"`
	Start        int         `json:"start"`
	End          int         `json:"end"`
	Value        string      `json:"-"`
	Confidence   float64     `json:"confidence"`
	Source       MatchSource `json:"source"`
	Priority     int         `json:"priority"`
	Corroborated bool        `json:"corroborated,omitempty"`
}

// overlaps reports whether two half-open ranges intersect.
func (m Match) overlaps(o Match) bool {
	return m.Start < o.End && o.Start < m.End
}

// valid reports whether the match offsets lie within a text of length n.
func (m Match) valid(n int) bool {
	return m.Start >= 0 && m.Start < m.End && m.End <= n
}

// WarningStage classifies where a field-scoped problem occurred.
type WarningStage string

const (
	StageConfig    WarningStage = "configuration"
	StageDetection WarningStage = "detection"
)

// Warning is a non-fatal, field-scoped condition surfaced alongside a
// masking result. Detection proceeds with whatever matches remain.
type Warning struct {
	FieldName string       `json:"field_name"`
	Stage     WarningStage `json:"stage"`
	Message   string       `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s [%s]: %s", w.FieldName, w.Stage, w.Message)
}

// TokenEntry is the wire form of one token-map pairing.
type TokenEntry struct {
	Token string `json:"token"`
	Value string `json:"value"`
}

// TokenMap maps placeholder tokens to their original values, preserving
// insertion order. It holds plaintext sensitive values and is owned
// exclusively by one masking transaction; it must never reach a durable
// log or history sink.
type TokenMap struct {
	order  []string
	values map[string]string
}

// NewTokenMap returns an empty token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{values: make(map[string]string)}
}

// TokenMapFromEntries rebuilds a token map from its wire form,
// preserving entry order. Duplicate tokens keep the first value.
func TokenMapFromEntries(entries []TokenEntry) *TokenMap {
	tm := NewTokenMap()
	for _, e := range entries {
		tm.Add(e.Token, e.Value)
	}
	return tm
}

// Add inserts a token/value pairing. Re-adding an existing token is a
// no-op so insertion order stays stable.
func (tm *TokenMap) Add(token, value string) {
	if _, ok := tm.values[token]; ok {
		return
	}
	tm.order = append(tm.order, token)
	tm.values[token] = value
}

// Get returns the original value for a token.
func (tm *TokenMap) Get(token string) (string, bool) {
	v, ok := tm.values[token]
	return v, ok
}

// Has reports whether the token is present.
func (tm *TokenMap) Has(token string) bool {
	_, ok := tm.values[token]
	return ok
}

// Tokens returns the tokens in insertion order.
func (tm *TokenMap) Tokens() []string {
	out := make([]string, len(tm.order))
	copy(out, tm.order)
	return out
}

// Len returns the number of distinct tokens.
func (tm *TokenMap) Len() int {
	return len(tm.order)
}

// Entries returns the wire form in insertion order.
func (tm *TokenMap) Entries() []TokenEntry {
	out := make([]TokenEntry, 0, len(tm.order))
	for _, tok := range tm.order {
		out = append(out, TokenEntry{Token: tok, Value: tm.values[tok]})
	}
	return out
}

// MarshalJSON encodes the map as an ordered array of entries. A plain
// JSON object would lose insertion order. HTML escaping is off so the
// angle brackets of the token syntax survive on the wire verbatim.
func (tm *TokenMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tm.Entries()); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON accepts the ordered-array wire form.
func (tm *TokenMap) UnmarshalJSON(data []byte) error {
	var entries []TokenEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*tm = *TokenMapFromEntries(entries)
	return nil
}

// MaskedDocument is the transient aggregate of one masking transaction.
// It has no persistence; it lives from mask to finalize and is then
// discarded.
type MaskedDocument struct {
	GuardType string
	Original  string
	Masked    string
	Tokens    *TokenMap
	Warnings  []Warning
}

package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	// suffixWidth is the fixed width of the token identifier.
	suffixWidth = 8
	// defaultMintAttempts bounds the collision-retry loop.
	defaultMintAttempts = 16
)

// SuffixFunc produces the candidate token identifier for a value. The
// attempt counter increments on collision so implementations can derive
// a fresh identifier deterministically.
type SuffixFunc func(fieldName, value string, attempt int) string

// Tokenizer converts an accepted, non-overlapping match list into
// placeholder tokens of the form <field_name:TOKEN_suffix> and builds
// the masked text in a single splice pass.
type Tokenizer struct {
	suffix      SuffixFunc
	maxAttempts int
	logger      *zap.Logger
}

// TokenizerOption customizes a Tokenizer.
type TokenizerOption func(*Tokenizer)

// WithSuffixFunc replaces the identifier generator. Tests use this to
// force collisions against adversarial input.
func WithSuffixFunc(fn SuffixFunc) TokenizerOption {
	return func(t *Tokenizer) { t.suffix = fn }
}

// WithMaxMintAttempts bounds the collision-retry loop.
func WithMaxMintAttempts(n int) TokenizerOption {
	return func(t *Tokenizer) {
		if n > 0 {
			t.maxAttempts = n
		}
	}
}

// NewTokenizer creates a tokenizer. The key salts the identifier hash
// so token suffixes are stable across restarts without being guessable
// from the value alone.
func NewTokenizer(key string, logger *zap.Logger, opts ...TokenizerOption) *Tokenizer {
	t := &Tokenizer{
		suffix:      keyedSuffix(key),
		maxAttempts: defaultMintAttempts,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// keyedSuffix derives a fixed-width identifier from a keyed SHA-256 of
// the original value. Deterministic on purpose: remasking the same
// value yields the same token, and repeated occurrences inside one
// document share it. The attempt counter perturbs the hash input when
// the first candidate collides with text already in the document.
func keyedSuffix(key string) SuffixFunc {
	return func(_, value string, attempt int) string {
		input := key + "_" + value
		if attempt > 0 {
			input = fmt.Sprintf("%s_%d", input, attempt)
		}
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])[:suffixWidth]
	}
}

// FormatToken renders the wire form of a token.
func FormatToken(fieldName, suffix string) string {
	return fmt.Sprintf("<%s:TOKEN_%s>", fieldName, suffix)
}

// TokenFieldName extracts the field name from a token's wire form.
func TokenFieldName(token string) (string, bool) {
	m := tokenSyntax.FindStringSubmatch(token)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Tokenize replaces each match span with its placeholder token and
// returns the masked document. Matches must be non-overlapping and
// sorted by start offset (the Merger guarantees both). All non-matched
// text is preserved verbatim.
func (t *Tokenizer) Tokenize(text, guardType string, matches []Match) (*MaskedDocument, error) {
	tokens := NewTokenMap()
	byValue := make(map[string]string, len(matches))

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0

	for _, m := range matches {
		if !m.valid(len(text)) || m.Start < cursor {
			return nil, fmt.Errorf("match list for field %q is not sorted and non-overlapping", m.FieldName)
		}
		b.WriteString(text[cursor:m.Start])

		value := text[m.Start:m.End]
		identity := m.FieldName + "\x00" + value
		token, ok := byValue[identity]
		if !ok {
			minted, err := t.mint(text, tokens, m.FieldName, value)
			if err != nil {
				return nil, err
			}
			token = minted
			byValue[identity] = token
			tokens.Add(token, value)
		}
		b.WriteString(token)
		cursor = m.End
	}
	b.WriteString(text[cursor:])

	t.logger.Debug("Document tokenized",
		zap.String("guard_type", guardType),
		zap.Int("spans", len(matches)),
		zap.Int("tokens", tokens.Len()),
	)

	return &MaskedDocument{
		GuardType: guardType,
		Original:  text,
		Masked:    b.String(),
		Tokens:    tokens,
	}, nil
}

// mint generates a collision-free token for a value. A candidate is
// rejected if its text already occurs verbatim in the source document
// (it would be indistinguishable from a real placeholder downstream) or
// if a different value already owns it.
func (t *Tokenizer) mint(text string, tokens *TokenMap, fieldName, value string) (string, error) {
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		candidate := FormatToken(fieldName, t.suffix(fieldName, value, attempt))
		if strings.Contains(text, candidate) {
			continue
		}
		if tokens.Has(candidate) {
			continue
		}
		if attempt > 0 {
			t.logger.Debug("Token collision resolved",
				zap.String("field", fieldName),
				zap.Int("attempts", attempt+1),
			)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("could not mint a collision-free token for field %q after %d attempts", fieldName, t.maxAttempts)
}

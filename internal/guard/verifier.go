package guard

import (
	"regexp"
	"strings"
)

// tokenSyntax matches anything shaped like a placeholder token. Field
// name and suffix may not contain '<', '>' or ':' per the wire format,
// so the expression can scan arbitrary reviewer-edited text without
// backtracking surprises.
var tokenSyntax = regexp.MustCompile(`<([^<>:]+):TOKEN_[^<>:]+>`)

// VerifyResult is the verdict of the integrity gate. OK holds iff both
// sets are empty: every minted token still appears at least once, and
// no token-shaped substring outside the map was introduced.
type VerifyResult struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing,omitempty"`
	Unknown []string `json:"unknown,omitempty"`
}

// Verify computes the exact token delta between the original token map
// and a (possibly human-edited) candidate masked text. Edits to
// non-token text are unrestricted; only the token set is protected.
// The check is pure and must pass before any call to the language-model
// collaborator.
func Verify(tokens *TokenMap, candidate string) VerifyResult {
	var missing []string
	for _, tok := range tokens.Tokens() {
		if !strings.Contains(candidate, tok) {
			missing = append(missing, tok)
		}
	}

	var unknown []string
	seen := make(map[string]bool)
	for _, found := range tokenSyntax.FindAllString(candidate, -1) {
		if tokens.Has(found) || seen[found] {
			continue
		}
		seen[found] = true
		unknown = append(unknown, found)
	}

	return VerifyResult{
		OK:      len(missing) == 0 && len(unknown) == 0,
		Missing: missing,
		Unknown: unknown,
	}
}

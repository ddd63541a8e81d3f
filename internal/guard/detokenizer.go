package guard

// Detokenize substitutes every known token occurrence in the response
// text with its original value. Token-shaped substrings absent from the
// map are left verbatim: a model response may legitimately omit or
// invent placeholders, and the detokenizer never fabricates values.
//
// The operation is idempotent on text containing no recognizable
// tokens, and is the exact inverse of tokenization for the subset of
// tokens that come back unchanged.
func Detokenize(text string, tokens *TokenMap) string {
	return tokenSyntax.ReplaceAllStringFunc(text, func(found string) string {
		if value, ok := tokens.Get(found); ok {
			return value
		}
		return found
	})
}

package recognizer

import "context"

// Span is one entity occurrence reported by the external recognition
// capability: a half-open byte range into the analyzed text, the
// model's entity label, and its confidence score.
type Span struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Valid reports whether the span offsets lie within a text of length n.
func (s Span) Valid(n int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= n
}

// Client is the external entity-recognition capability. Implementations
// must be safe for concurrent use; calls are cancellable and
// time-bounded through the context.
type Client interface {
	// Recognize analyzes the full text with the named model and returns
	// every entity span it found, regardless of label.
	Recognize(ctx context.Context, model, text string) ([]Span, error)
}

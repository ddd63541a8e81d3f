package history

import "time"

// Record is one completed masking transaction as kept for audit and
// usage accounting. Only the masked text and counters are stored: token
// maps and original values never reach the history store.
type Record struct {
	ID               int64     `db:"id" json:"id" parquet:"id"`
	GuardType        string    `db:"guard_type" json:"guard_type" parquet:"guard_type"`
	MaskedText       string    `db:"masked_text" json:"masked_text" parquet:"masked_text"`
	MaskedTokenCount int       `db:"masked_token_count" json:"masked_token_count" parquet:"masked_token_count"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens" parquet:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens" parquet:"completion_tokens"`
	Model            string    `db:"model" json:"model" parquet:"model"`
	LLMMode          string    `db:"llm_mode" json:"llm_mode" parquet:"llm_mode"`
	CreatedAt        time.Time `db:"created_at" json:"created_at" parquet:"created_at"`
}

// Stats aggregates usage over the stored history.
type Stats struct {
	TotalRequests    int64 `db:"total_requests" json:"total_requests"`
	TotalMaskedSpans int64 `db:"total_masked_spans" json:"total_masked_spans"`
	PromptTokens     int64 `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int64 `db:"completion_tokens" json:"completion_tokens"`
}

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Recorder accepts completed transaction records. Recording failures
// must never fail the transaction that produced them.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// NopRecorder discards records; used when history is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, rec *Record) error { return nil }

// Config contains history store configuration.
type Config struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL   string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns  int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns  int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	RetentionDays int           `yaml:"retention_days" mapstructure:"retention_days"`
	QueryTimeout  time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

const historySchema = `
CREATE TABLE IF NOT EXISTS usage_history (
    id                 BIGSERIAL PRIMARY KEY,
    guard_type         TEXT NOT NULL,
    masked_text        TEXT NOT NULL,
    masked_token_count INTEGER NOT NULL DEFAULT 0,
    prompt_tokens      INTEGER NOT NULL DEFAULT 0,
    completion_tokens  INTEGER NOT NULL DEFAULT 0,
    model              TEXT NOT NULL DEFAULT '',
    llm_mode           TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_usage_history_created_at ON usage_history (created_at);
CREATE INDEX IF NOT EXISTS idx_usage_history_guard_type ON usage_history (guard_type);`

// Store persists transaction history in PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	config *Config
}

// NewStore connects and ensures the history schema.
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With(zap.String("component", "history")),
		config: config,
	}
	s.logger.Info("History store initialized")
	return s, nil
}

// Record inserts one transaction record.
func (s *Store) Record(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_history
		 (guard_type, masked_text, masked_token_count, prompt_tokens, completion_tokens, model, llm_mode, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.GuardType, rec.MaskedText, rec.MaskedTokenCount,
		rec.PromptTokens, rec.CompletionTokens, rec.Model, rec.LLMMode, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, guardType string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var records []Record
	var err error
	if guardType != "" {
		err = s.db.SelectContext(ctx, &records,
			`SELECT * FROM usage_history WHERE guard_type = $1 ORDER BY created_at DESC LIMIT $2`,
			guardType, limit)
	} else {
		err = s.db.SelectContext(ctx, &records,
			`SELECT * FROM usage_history ORDER BY created_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return records, nil
}

// GetStats aggregates usage counters across the stored history.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats,
		`SELECT COUNT(*)                          AS total_requests,
		        COALESCE(SUM(masked_token_count), 0) AS total_masked_spans,
		        COALESCE(SUM(prompt_tokens), 0)      AS prompt_tokens,
		        COALESCE(SUM(completion_tokens), 0)  AS completion_tokens
		 FROM usage_history`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate history stats: %w", err)
	}
	return &stats, nil
}

// Prune deletes records older than the configured retention window.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_history WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("Pruned history records", zap.Int64("deleted", n))
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

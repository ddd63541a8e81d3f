package profile

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jbellec/veilguard/internal/guard"
)

// PostgresConfig contains database configuration for the profile store.
type PostgresConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

const profileSchema = `
CREATE TABLE IF NOT EXISTS guard_types (
    id           SERIAL PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS regex_patterns (
    id           SERIAL PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    pattern      TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    flags        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS guard_fields (
    id                   SERIAL PRIMARY KEY,
    guard_type_id        INTEGER NOT NULL REFERENCES guard_types(id) ON DELETE CASCADE,
    field_name           TEXT NOT NULL,
    display_name         TEXT NOT NULL DEFAULT '',
    detection_type       TEXT NOT NULL,
    regex_pattern        TEXT NOT NULL DEFAULT '',
    entity_model         TEXT NOT NULL DEFAULT '',
    ner_entity_type      TEXT NOT NULL DEFAULT '',
    confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
    priority             INTEGER NOT NULL DEFAULT 50,
    example_value        TEXT NOT NULL DEFAULT '',
    is_active            BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE (guard_type_id, field_name)
);`

// PostgresStore serves guard profiles from PostgreSQL. The snapshot is
// rebuilt only on Reload; reads between reloads share one immutable
// view, which keeps the masking hot path off the database entirely.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger

	mu   sync.RWMutex
	snap *guard.Snapshot
}

// NewPostgresStore connects, ensures the schema, seeds empty tables
// with the built-in catalog, and loads the first snapshot.
func NewPostgresStore(config *PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	s := &PostgresStore{
		db:     db,
		logger: logger.With(zap.String("component", "profile_store")),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize profile store: %w", err)
	}
	if err := s.Reload(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("Profile store connected",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)))
	return s, nil
}

func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, profileSchema); err != nil {
		return fmt.Errorf("failed to create profile schema: %w", err)
	}

	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM guard_types"); err != nil {
		return fmt.Errorf("failed to check seed state: %w", err)
	}
	if count == 0 {
		if err := s.seed(ctx); err != nil {
			return fmt.Errorf("failed to seed default profiles: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) seed(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range DefaultPatterns() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO regex_patterns (name, display_name, pattern, description, flags)
			 VALUES ($1, $2, $3, $4, $5)`,
			p.Name, p.DisplayName, p.Pattern, p.Description, p.Flags); err != nil {
			return err
		}
	}
	for _, prof := range DefaultProfiles() {
		var id int
		if err := tx.GetContext(ctx, &id,
			`INSERT INTO guard_types (name, display_name, description)
			 VALUES ($1, $2, $3) RETURNING id`,
			prof.Name, prof.DisplayName, prof.Description); err != nil {
			return err
		}
		for _, f := range prof.Fields {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO guard_fields
				 (guard_type_id, field_name, display_name, detection_type, regex_pattern,
				  entity_model, ner_entity_type, confidence_threshold, priority, example_value)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				id, f.FieldName, f.DisplayName, f.DetectionType, f.PatternRef,
				f.EntityModel, f.EntityType, f.ConfidenceThreshold, f.Priority, f.Example); err != nil {
				return err
			}
		}
	}

	s.logger.Info("Seeded default guard profiles")
	return tx.Commit()
}

// Snapshot returns the current configuration view.
func (s *PostgresStore) Snapshot(ctx context.Context) (*guard.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, fmt.Errorf("profile store not loaded")
	}
	return s.snap, nil
}

type guardTypeRow struct {
	ID          int    `db:"id"`
	Name        string `db:"name"`
	DisplayName string `db:"display_name"`
	Description string `db:"description"`
}

type patternRow struct {
	Name        string `db:"name"`
	DisplayName string `db:"display_name"`
	Pattern     string `db:"pattern"`
	Description string `db:"description"`
	Flags       string `db:"flags"`
}

type fieldRow struct {
	GuardTypeID         int     `db:"guard_type_id"`
	FieldName           string  `db:"field_name"`
	DisplayName         string  `db:"display_name"`
	DetectionType       string  `db:"detection_type"`
	RegexPattern        string  `db:"regex_pattern"`
	EntityModel         string  `db:"entity_model"`
	NEREntityType       string  `db:"ner_entity_type"`
	ConfidenceThreshold float64 `db:"confidence_threshold"`
	Priority            int     `db:"priority"`
	ExampleValue        string  `db:"example_value"`
}

// Reload rebuilds the snapshot from the database and swaps it in. A
// failed load keeps the previous snapshot serving.
func (s *PostgresStore) Reload(ctx context.Context) error {
	var patternRows []patternRow
	if err := s.db.SelectContext(ctx, &patternRows,
		`SELECT name, display_name, pattern, description, flags
		 FROM regex_patterns ORDER BY name`); err != nil {
		return fmt.Errorf("failed to load pattern catalog: %w", err)
	}
	patterns := make([]guard.PatternDef, 0, len(patternRows))
	for _, r := range patternRows {
		patterns = append(patterns, guard.PatternDef{
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Pattern:     r.Pattern,
			Description: r.Description,
			Flags:       r.Flags,
		})
	}

	var typeRows []guardTypeRow
	if err := s.db.SelectContext(ctx, &typeRows,
		`SELECT id, name, display_name, description FROM guard_types ORDER BY name`); err != nil {
		return fmt.Errorf("failed to load guard types: %w", err)
	}

	var rows []fieldRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT guard_type_id, field_name, display_name, detection_type, regex_pattern,
		        entity_model, ner_entity_type, confidence_threshold, priority, example_value
		 FROM guard_fields WHERE is_active ORDER BY guard_type_id, priority, field_name`); err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to load guard fields: %w", err)
		}
	}
	fieldsByType := make(map[int][]guard.FieldConfig)
	for _, r := range rows {
		fieldsByType[r.GuardTypeID] = append(fieldsByType[r.GuardTypeID], guard.FieldConfig{
			FieldName:           r.FieldName,
			DisplayName:         r.DisplayName,
			DetectionType:       guard.DetectionType(r.DetectionType),
			PatternRef:          r.RegexPattern,
			EntityModel:         r.EntityModel,
			EntityType:          r.NEREntityType,
			ConfidenceThreshold: r.ConfidenceThreshold,
			Priority:            r.Priority,
			Example:             r.ExampleValue,
		})
	}

	profiles := make([]guard.Profile, 0, len(typeRows))
	for _, t := range typeRows {
		profiles = append(profiles, guard.Profile{
			Name:        t.Name,
			DisplayName: t.DisplayName,
			Description: t.Description,
			Fields:      fieldsByType[t.ID],
		})
	}

	snap, err := buildSnapshot(profiles, patterns, s.logger)
	if err != nil {
		return fmt.Errorf("validating stored profiles: %w", err)
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.logger.Info("Guard profiles loaded from database",
		zap.Int("profiles", len(snap.Profiles)),
		zap.Int("patterns", len(snap.Patterns)))
	return nil
}

// Close releases the database connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides credentials for logging.
func maskDatabaseURL(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "<invalid-url>"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return strings.TrimSpace(u.String())
}

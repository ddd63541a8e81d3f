package config

import (
	"strings"
	"testing"
)

func validBase() *Config {
	cfg := GetDefaults()
	cfg.Guard.TokenKey = "test-key"
	return cfg
}

func TestValidateConfig(t *testing.T) {
	t.Run("DefaultsWithTokenKeyAreValid", func(t *testing.T) {
		if err := validateConfig(validBase()); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("TokenKeyRequired", func(t *testing.T) {
		cfg := validBase()
		cfg.Guard.TokenKey = ""
		err := validateConfig(cfg)
		if err == nil || !strings.Contains(err.Error(), "VEILGUARD_GUARD_TOKEN_KEY") {
			t.Errorf("Error should point at the env var, got %v", err)
		}
	})

	t.Run("PostgresBackendNeedsURL", func(t *testing.T) {
		cfg := validBase()
		cfg.Guard.Store.Backend = "postgres"
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected an error for postgres backend without database_url")
		}
		cfg.Guard.Store.DatabaseURL = "postgres://localhost/veilguard"
		if err := validateConfig(cfg); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("UnknownBackendRejected", func(t *testing.T) {
		cfg := validBase()
		cfg.Guard.Store.Backend = "etcd"
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected an error for an unknown store backend")
		}
	})

	t.Run("LLMEnabledNeedsAPIKey", func(t *testing.T) {
		cfg := validBase()
		cfg.LLM.Enabled = true
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected an error for an enabled LLM without an API key")
		}
	})

	t.Run("HistoryEnabledNeedsURL", func(t *testing.T) {
		cfg := validBase()
		cfg.History.Enabled = true
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected an error for enabled history without a database URL")
		}
	})

	t.Run("BadPortRejected", func(t *testing.T) {
		cfg := validBase()
		cfg.Server.Port = 0
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected an error for port 0")
		}
	})

	t.Run("BadLogLevelRejected", func(t *testing.T) {
		cfg := validBase()
		cfg.Logging.Level = "verbose"
		if err := validateConfig(cfg); err == nil {
			t.Error("Expected an error for an unknown log level")
		}
	})
}

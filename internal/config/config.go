package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/veilguard/")
	viper.AddConfigPath("$HOME/.veilguard/")

	// Environment variable overrides
	viper.SetEnvPrefix("VEILGUARD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Guard.TokenKey == "" {
		return fmt.Errorf("guard.token_key is required (set VEILGUARD_GUARD_TOKEN_KEY)")
	}

	if config.Guard.MaxMintAttempts <= 0 {
		return fmt.Errorf("invalid guard.max_mint_attempts: %d", config.Guard.MaxMintAttempts)
	}

	switch config.Guard.Store.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("invalid guard store backend: %s (must be file or postgres)", config.Guard.Store.Backend)
	}
	if config.Guard.Store.Backend == "postgres" && config.Guard.Store.DatabaseURL == "" {
		return fmt.Errorf("guard.store.database_url is required for the postgres backend")
	}

	if config.Recognizer.URL == "" {
		return fmt.Errorf("recognizer.url is required")
	}

	if config.LLM.Enabled && config.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when the LLM is enabled")
	}

	if config.History.Enabled && config.History.DatabaseURL == "" {
		return fmt.Errorf("history.database_url is required when history is enabled")
	}

	if config.Security.RateLimit.Enabled && config.Security.RateLimit.RPS <= 0 {
		return fmt.Errorf("invalid rate limit rps: %f", config.Security.RateLimit.RPS)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}

package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Guard      GuardConfig      `yaml:"guard" mapstructure:"guard"`
	Recognizer RecognizerConfig `yaml:"recognizer" mapstructure:"recognizer"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	History    HistoryConfig    `yaml:"history" mapstructure:"history"`
	Security   SecurityConfig   `yaml:"security" mapstructure:"security"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	WebSocket  WebSocketConfig  `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// GuardConfig contains tokenization and profile store configuration.
// TokenKey keys the deterministic token suffixes; rotating it changes
// every minted token but never leaks values either way.
type GuardConfig struct {
	TokenKey        string `yaml:"token_key" mapstructure:"token_key"`
	MaxMintAttempts int    `yaml:"max_mint_attempts" mapstructure:"max_mint_attempts"`
	Store           struct {
		Backend     string `yaml:"backend" mapstructure:"backend"` // file or postgres
		ProfilePath string `yaml:"profile_path" mapstructure:"profile_path"`
		DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
		WatchFile   bool   `yaml:"watch_file" mapstructure:"watch_file"`
	} `yaml:"store" mapstructure:"store"`
}

// RecognizerConfig contains the external entity recognizer endpoint.
type RecognizerConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LLMConfig contains the downstream language model configuration. When
// disabled, finalize echoes the masked text back after verification.
type LLMConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	Model     string        `yaml:"model" mapstructure:"model"`
	MaxTokens int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig contains the recognizer span cache configuration.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// HistoryConfig contains the usage history store configuration.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns  int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// SecurityConfig contains request limiting configuration
type SecurityConfig struct {
	RateLimit struct {
		Enabled bool    `yaml:"enabled" mapstructure:"enabled"`
		RPS     float64 `yaml:"rps" mapstructure:"rps"`
		Burst   int     `yaml:"burst" mapstructure:"burst"`
	} `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Guard: GuardConfig{
			MaxMintAttempts: 16,
		},
		Recognizer: RecognizerConfig{
			URL:     "http://localhost:5002/recognize",
			Timeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Enabled:   false,
			BaseURL:   "https://api.openai.com",
			Model:     "gpt-4o-mini",
			MaxTokens: 1024,
			Timeout:   60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     5 * time.Minute,
			KeyPrefix:      "veilguard",
		},
		History: HistoryConfig{
			Enabled:       false,
			MaxOpenConns:  10,
			MaxIdleConns:  2,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
	}
	cfg.Guard.Store.Backend = "file"
	cfg.Guard.Store.ProfilePath = "configs/profiles.yaml"
	cfg.Guard.Store.WatchFile = true
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.RPS = 20
	cfg.Security.RateLimit.Burst = 40
	return cfg
}

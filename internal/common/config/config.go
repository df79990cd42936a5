// Package config provides configuration management for the clarifier service.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the clarifier service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// StoreConfig holds session store configuration.
// Backend selects the storage implementation: memory, sqlite, or postgres.
type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlitePath"`
	PostgresDSN string `mapstructure:"postgresDsn"`
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SessionConfig holds clarification session policy configuration.
type SessionConfig struct {
	MaxAttempts  int `mapstructure:"maxAttempts"`  // per-field retry budget
	IdleTimeout  int `mapstructure:"idleTimeout"`  // in seconds; idle sessions are reclaimable after this
	ReapInterval int `mapstructure:"reapInterval"` // in seconds; how often the reaper runs
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// IdleTimeoutDuration returns the session idle timeout as a time.Duration.
func (s *SessionConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// ReapIntervalDuration returns the reaper interval as a time.Duration.
func (s *SessionConfig) ReapIntervalDuration() time.Duration {
	return time.Duration(s.ReapInterval) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	if env := os.Getenv("CLARIFIER_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Store defaults - memory unless configured otherwise
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.sqlitePath", "clarifier.db")
	v.SetDefault("store.postgresDsn", "")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "clarifier")
	v.SetDefault("nats.maxReconnects", 10)

	// Session policy defaults
	v.SetDefault("session.maxAttempts", 3)
	v.SetDefault("session.idleTimeout", 1800) // 30 minutes
	v.SetDefault("session.reapInterval", 300) // 5 minutes

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CLARIFIER_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/clarifier/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CLARIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("store.sqlitePath", "CLARIFIER_STORE_SQLITE_PATH")
	_ = v.BindEnv("store.postgresDsn", "CLARIFIER_STORE_POSTGRES_DSN")
	_ = v.BindEnv("session.maxAttempts", "CLARIFIER_SESSION_MAX_ATTEMPTS")
	_ = v.BindEnv("session.idleTimeout", "CLARIFIER_SESSION_IDLE_TIMEOUT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/clarifier/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlitePath is required when store.backend is sqlite")
		}
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			errs = append(errs, "store.postgresDsn is required when store.backend is postgres")
		}
	default:
		errs = append(errs, "store.backend must be one of: memory, sqlite, postgres")
	}

	if cfg.Session.MaxAttempts <= 0 {
		errs = append(errs, "session.maxAttempts must be positive")
	}
	if cfg.Session.IdleTimeout <= 0 {
		errs = append(errs, "session.idleTimeout must be positive")
	}
	if cfg.Session.ReapInterval <= 0 {
		errs = append(errs, "session.reapInterval must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

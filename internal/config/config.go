package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds system-wide settings, grouped by subsystem.
type Config struct {
	Database *DatabaseConfig
	HTTP     *HTTPConfig
	OpenAI   *OpenAIConfig
	Chat     *ChatConfig
	LogLevel string
}

type DatabaseConfig struct {
	Path    string
	Timeout time.Duration
}

type HTTPConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

// ChatConfig tunes the intervention pipeline.
type ChatConfig struct {
	// BufferThreshold is how many buffered messages a room accumulates
	// before the assistant reviews the conversation.
	BufferThreshold int
}

// DefaultConfig returns settings suitable for a local classroom deployment.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./classrelay.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		OpenAI: &OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Chat: &ChatConfig{
			BufferThreshold: 6,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the environment on top of defaults. A .env
// file in the working directory is applied first when present; a missing
// file is not an error.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).Warn("could not read .env file")
		}
	}

	cfg := DefaultConfig()

	if port := os.Getenv("CLASSRELAY_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if host := os.Getenv("CLASSRELAY_HTTP_HOST"); host != "" {
		cfg.HTTP.Host = host
	}
	if readTimeout := os.Getenv("CLASSRELAY_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			cfg.HTTP.ReadTimeout = d
		}
	}
	if writeTimeout := os.Getenv("CLASSRELAY_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			cfg.HTTP.WriteTimeout = d
		}
	}
	if dbPath := os.Getenv("CLASSRELAY_DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if dbTimeout := os.Getenv("CLASSRELAY_DATABASE_TIMEOUT"); dbTimeout != "" {
		if d, err := time.ParseDuration(dbTimeout); err == nil {
			cfg.Database.Timeout = d
		}
	}
	if threshold := os.Getenv("CLASSRELAY_BUFFER_THRESHOLD"); threshold != "" {
		if n, err := strconv.Atoi(threshold); err == nil {
			cfg.Chat.BufferThreshold = n
		}
	}
	if model := os.Getenv("CLASSRELAY_OPENAI_MODEL"); model != "" {
		cfg.OpenAI.Model = model
	}
	if level := os.Getenv("CLASSRELAY_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")

	return cfg
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.OpenAI == nil || c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.OpenAI.Model == "" {
		return fmt.Errorf("OpenAI model cannot be empty")
	}
	if c.Chat == nil || c.Chat.BufferThreshold <= 0 {
		return fmt.Errorf("buffer threshold must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

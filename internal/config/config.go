package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Server basics
	Host string `env:"HOST" envDefault:""`
	Port int    `env:"PORT" envDefault:"8001"`

	// Persistence
	// postgres:// or postgresql:// selects Postgres; anything else (or empty)
	// is treated as a SQLite file path. Empty falls back to data/live_reaction.db.
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	// CORS
	FrontendURL string `env:"FRONTEND_URL" envDefault:"*"`

	// Per-connection protocol limits
	MaxFrameBytes     int           `env:"MAX_FRAME_BYTES" envDefault:"8192"`
	MaxMessagesPerSec int           `env:"MAX_MESSAGES_PER_SEC" envDefault:"50"`
	SendQueueSize     int           `env:"SEND_QUEUE_SIZE" envDefault:"64"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`

	// Shutdown
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
//
// Optional logger parameter for structured logging. If nil, logs to stdout.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	// Load .env file (optional - OK if it doesn't exist)
	// In production (Docker), we use environment variables directly
	// In development, .env file provides convenience
	if err := godotenv.Load(); err != nil {
		// Only log, don't fail - we can run without .env file
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		} else {
			fmt.Println("Info: No .env file found (using environment variables only)")
		}
	} else {
		if logger != nil {
			logger.Info().Msg("Loaded configuration from .env file")
		}
	}

	cfg := &Config{}

	// Parse environment variables into struct
	// This validates types and applies defaults
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validation
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("Configuration loaded and validated successfully")
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	// Range checks
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.MaxFrameBytes < 1 {
		return fmt.Errorf("MAX_FRAME_BYTES must be > 0, got %d", c.MaxFrameBytes)
	}
	if c.MaxMessagesPerSec < 1 {
		return fmt.Errorf("MAX_MESSAGES_PER_SEC must be > 0, got %d", c.MaxMessagesPerSec)
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be > 0, got %d", c.SendQueueSize)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("IDLE_TIMEOUT must be > 0, got %s", c.IdleTimeout)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("SHUTDOWN_GRACE must be >= 0, got %s", c.ShutdownGrace)
	}

	// Enum checks
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Print logs configuration for debugging (human-readable format)
// For production, use LogConfig() with structured logging
func (c *Config) Print() {
	fmt.Println("=== Server Configuration ===")
	fmt.Printf("Address:          %s\n", c.Addr())
	if c.DatabaseURL == "" {
		fmt.Println("Database:         sqlite (default path)")
	} else {
		fmt.Printf("Database:         %s\n", c.DatabaseURL)
	}
	fmt.Printf("Frontend URL:     %s\n", c.FrontendURL)
	fmt.Println("\n=== Connection Limits ===")
	fmt.Printf("Max Frame Bytes:  %d\n", c.MaxFrameBytes)
	fmt.Printf("Max Messages/sec: %d\n", c.MaxMessagesPerSec)
	fmt.Printf("Send Queue Size:  %d\n", c.SendQueueSize)
	fmt.Printf("Idle Timeout:     %s\n", c.IdleTimeout)
	fmt.Printf("Shutdown Grace:   %s\n", c.ShutdownGrace)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:            %s\n", c.LogLevel)
	fmt.Printf("Format:           %s\n", c.LogFormat)
	fmt.Println("============================")
}

// LogConfig logs configuration using structured logging
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr()).
		Str("database_url", c.DatabaseURL).
		Str("frontend_url", c.FrontendURL).
		Int("max_frame_bytes", c.MaxFrameBytes).
		Int("max_messages_per_sec", c.MaxMessagesPerSec).
		Int("send_queue_size", c.SendQueueSize).
		Dur("idle_timeout", c.IdleTimeout).
		Dur("shutdown_grace", c.ShutdownGrace).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}

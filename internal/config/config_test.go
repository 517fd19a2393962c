package config_test

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mizuir0/live-reaction-system/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Port:              8001,
		FrontendURL:       "*",
		MaxFrameBytes:     8192,
		MaxMessagesPerSec: 50,
		SendQueueSize:     64,
		IdleTimeout:       60 * time.Second,
		ShutdownGrace:     10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, 8192, cfg.MaxFrameBytes)
	assert.Equal(t, 50, cfg.MaxMessagesPerSec)
	assert.Equal(t, 64, cfg.SendQueueSize)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("IDLE_TIMEOUT", "30s")

	cfg, err := config.LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(c *config.Config) {}, ""},
		{"port too low", func(c *config.Config) { c.Port = 0 }, "PORT"},
		{"port too high", func(c *config.Config) { c.Port = 70000 }, "PORT"},
		{"frame bytes", func(c *config.Config) { c.MaxFrameBytes = 0 }, "MAX_FRAME_BYTES"},
		{"messages per sec", func(c *config.Config) { c.MaxMessagesPerSec = 0 }, "MAX_MESSAGES_PER_SEC"},
		{"send queue", func(c *config.Config) { c.SendQueueSize = 0 }, "SEND_QUEUE_SIZE"},
		{"idle timeout", func(c *config.Config) { c.IdleTimeout = 0 }, "IDLE_TIMEOUT"},
		{"log level", func(c *config.Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"log format", func(c *config.Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPrint(t *testing.T) {
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	validConfig().Print()
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), ":8001")
	assert.Contains(t, string(out), "sqlite (default path)")
}

func TestAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, ":8001", cfg.Addr())

	cfg.Host = "127.0.0.1"
	cfg.Port = 9000
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
}

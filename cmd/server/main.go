package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/Mizuir0/live-reaction-system/internal/config"
	"github.com/Mizuir0/live-reaction-system/internal/logging"
	"github.com/Mizuir0/live-reaction-system/internal/reaction"
	"github.com/Mizuir0/live-reaction-system/internal/server"
	"github.com/Mizuir0/live-reaction-system/internal/storage"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	// Bootstrap logger with defaults; reconfigured once config is loaded.
	logger := logging.NewLogger(logging.Config{
		Level:  logging.LevelInfo,
		Format: logging.FormatJSON,
	})

	cfg, err := config.LoadConfig(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = logging.LevelDebug
	}

	logger = logging.NewLogger(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Runtime configured")
	if cfg.LogFormat == logging.FormatPretty {
		cfg.Print()
	} else {
		cfg.LogConfig(logger)
	}

	db, err := storage.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}

	windows := reaction.NewWindowStore()
	srv := server.New(cfg, windows, db, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing database")
	}
}

package main

import (
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/app"
	"github.com/dokzlo13/lockd/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	envFile := flag.String("env", ".env", "Environment file loaded before the configuration is expanded")
	resetState := flag.Bool("reset-state", false, "Clear persisted lock state on startup")
	flag.Parse()

	// Variables already set in the environment win over the file
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", *envFile).Msg("Failed to load environment file")
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.GetLevel(), cfg.Log.UseJSON, cfg.Log.Colors)

	log.Info().Str("config", configPath).Int("locks", len(cfg.Locks)).Msg("Starting lockd")

	// Create context that cancels on shutdown signal
	ctx, stop := app.SignalContext()
	defer stop()

	// Create application
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	// Handle reset state flag
	if *resetState {
		log.Info().Msg("Clearing persisted lock state (--reset-state)")
		if err := application.ClearLockState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear lock state")
		}
	}

	// Run until a shutdown signal or a fatal error
	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("lockd stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("lockd stopped")
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

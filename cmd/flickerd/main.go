package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/flickerd/internal/app"
	"github.com/dokzlo13/flickerd/internal/config"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "flickerd",
		Short:         "Animate light fixtures and keep their looks on proximity tags",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")

	root.AddCommand(
		createRunCmd(&configPath),
		createPatternsCmd(),
		createTagCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// loadConfig loads configuration and sets up logging from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)
	return cfg, nil
}

func createRunCmd(configPath *string) *cobra.Command {
	var resetState bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fixture daemon",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			log.Info().Str("config", *configPath).Msg("Starting flickerd")

			// Create application
			application, err := app.New(cfg)
			if err != nil {
				return err
			}

			// Handle reset state flag
			if resetState {
				log.Info().Msg("Clearing stored fixture state (--reset-state)")
				if err := application.ClearState(); err != nil {
					log.Warn().Err(err).Msg("Failed to clear fixture state")
				}
			}

			// Create context that cancels on shutdown signal
			ctx := app.SignalContext()

			// Start the application
			if err := application.Start(ctx); err != nil {
				application.Stop()
				return err
			}

			// Wait for shutdown
			application.Wait()

			// Graceful shutdown
			if err := application.Stop(); err != nil {
				log.Error().Err(err).Msg("Error during shutdown")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetState, "reset-state", false, "Clear stored fixture state on startup")
	return cmd
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

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

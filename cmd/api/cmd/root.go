package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/healthbridge/translator/backend/internal/config"
	"github.com/healthbridge/translator/backend/internal/logging"
)

var (
	envFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "translator-api",
	Short: "Healthcare translation API server",
	Long: `translator-api serves the doctor-patient translation backend: conversations,
translated messages, audio uploads, transcript search, summaries and the
per-conversation WebSocket relay.

Running it without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level override (debug, info, warn, error)")
}

// loadEnvironment reads the dotenv file (if any) and the configuration.
func loadEnvironment() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{Level: cfg.Level, Format: cfg.Format})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

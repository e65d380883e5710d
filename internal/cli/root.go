package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imgbatch/internal/config"
)

var (
	configPath string
	logLevel   string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:           "imgbatch",
	Short:         "imgbatch - batch image conversion",
	Long:          "imgbatch validates image files, converts them one at a time through a conversion service and bundles the results.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		return setupLogging(cfg.LogLevel)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig reads .env, the YAML file and IMGBATCH_* overrides, in that order.
func loadConfig(path string) (config.Config, error) {
	_ = godotenv.Load()
	loaded, err := config.Load(path)
	if err != nil {
		return loaded, fmt.Errorf("load config: %w", err)
	}
	if err := loaded.ApplyEnv(); err != nil {
		return loaded, fmt.Errorf("apply env: %w", err)
	}
	return loaded, nil
}

func setupLogging(level string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

func zerologDebug() bool {
	return zerolog.GlobalLevel() <= zerolog.DebugLevel
}

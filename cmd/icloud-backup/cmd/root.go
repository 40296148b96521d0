package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-icloud-backup/internal/config"
	"go-icloud-backup/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logLevel and logFormat are persistent logging flags
var logLevel string
var logFormat string

// globalConfig holds the loaded configuration
var globalConfig models.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "icloud-backup",
	Short: "Back up an iCloud photo library to local storage",
	Long: `iCloud Backup enumerates your personal library, items shared with
you and shared albums, and mirrors them into an organized local
directory tree. Repeated runs are idempotent: already-backed-up
assets are detected through a local dedup index and skipped.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")

	// Hook to configure logging before any command runs
	cobra.OnInitialize(initLogging)
}

// initLogging configures logrus from the persistent flags.
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Warnf("Invalid log level %q, defaulting to info", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if logFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// loadGlobalConfig loads the configuration before any command runs. Flag
// overrides on top of it are applied per command.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.Load(cfgFile)
	if err != nil {
		// Non-fatal: commands check the fields they need and fail there.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
		config.ApplyDefaults(&globalConfig)
	}
	return nil
}

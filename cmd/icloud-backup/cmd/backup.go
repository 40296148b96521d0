package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-icloud-backup/index"
	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/orchestrator"
	"go-icloud-backup/internal/source/icloud"
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run a full backup of the remote photo library",
	Long: `Enumerates the enabled partitions, pairs Live Photos, plans target
paths, skips everything the dedup index already knows about and downloads the
rest with bounded concurrency.`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringP("output", "o", "", "Output root directory (overrides config)")
	backupCmd.Flags().IntP("concurrency", "c", 0, "Max concurrent downloads (overrides config)")
	backupCmd.Flags().Int("max-retries", 0, "Retry ceiling per asset (overrides config)")
	backupCmd.Flags().Bool("no-shared", false, "Skip photos shared with you")
	backupCmd.Flags().Bool("no-albums", false, "Skip shared albums")
	backupCmd.Flags().Bool("timestamp-folder", false, "Wrap the output root in a per-run timestamped subfolder")
	backupCmd.Flags().Bool("preserve-metadata", false, "Write metadata attributes after fetch")
	backupCmd.Flags().Bool("no-live-photos", false, "Disable Live Photo pairing (motion components saved as standalone videos)")

	// Viper bindings let config values and flags share one lookup path.
	_ = viper.BindPFlag("concurrency", backupCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("maxretries", backupCmd.Flags().Lookup("max-retries"))
}

// applyBackupFlags overlays explicit flags onto the loaded config.
func applyBackupFlags(cmd *cobra.Command, cfg *models.Config) {
	if cmd.Flags().Changed("output") {
		if v, _ := cmd.Flags().GetString("output"); v != "" {
			cfg.Download.DefaultPath = v
		}
	}
	if cmd.Flags().Changed("concurrency") {
		if v := viper.GetInt("concurrency"); v > 0 {
			cfg.Performance.MaxConcurrentDownloads = v
		}
	}
	if cmd.Flags().Changed("max-retries") {
		if v := viper.GetInt("maxretries"); v > 0 {
			cfg.Performance.MaxRetries = v
		}
	}
	if cmd.Flags().Changed("no-shared") {
		cfg.Options.DownloadShared = false
	}
	if cmd.Flags().Changed("no-albums") {
		cfg.Options.DownloadAlbums = false
	}
	if cmd.Flags().Changed("timestamp-folder") {
		cfg.Download.CreateTimestampFolder = true
	}
	if cmd.Flags().Changed("preserve-metadata") {
		cfg.Options.PreserveMetadata = true
	}
	if cmd.Flags().Changed("no-live-photos") {
		cfg.Options.HandleLivePhotos = false
	}
}

// runBackup is the main execution function for the backup command.
func runBackup(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	applyBackupFlags(cmd, &cfg)

	log.Info("Starting iCloud Backup")

	// Ctrl-C cancels the run; completed work is still flushed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: time.Duration(cfg.Performance.FetchTimeoutSec) * time.Second}
	src := icloud.NewClient(cfg.Source, httpClient)

	orch := &orchestrator.Orchestrator{
		Cfg:    cfg,
		Source: src,
	}

	if cfg.Download.BleveIndexPath != "" {
		idx, err := index.OpenOrCreateIndex(cfg.Download.BleveIndexPath)
		if err != nil {
			log.WithError(err).Warn("Could not open search index, continuing without it")
		} else {
			defer idx.Close()
			orch.Indexer = &bleveIndexer{idx: idx}
		}
	}

	renderer := newProgressRenderer()
	renderer.Start()
	orch.OnProgress = renderer.Handle
	defer renderer.Stop()

	report, err := orch.Run(ctx)
	if err != nil {
		// Run-scoped failure: the only case that changes the exit status.
		return err
	}
	log.Infof("Backup complete: %d fetched, %d skipped, %d failed",
		report.Fetched, report.SkippedDuplicate, report.FailedTerminal)
	return nil
}

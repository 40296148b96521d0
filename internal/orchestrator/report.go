package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/helpers"
	"go-icloud-backup/internal/models"
)

// writeReport persists the machine-readable run report under the output root.
func writeReport(root string, report models.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run report: %w", err)
	}
	path := filepath.Join(root, fmt.Sprintf("backup_report_%s.json", report.RunID))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing run report %s: %w", path, err)
	}
	log.Infof("Run report written to %s", path)
	return nil
}

// logSummary prints the human-readable outcome. Every terminal failure is
// named with its identity, target path and error kind; nothing ends a run
// unaccounted.
func logSummary(report models.RunReport) {
	log.Infof("Backup run %s finished in %s", report.RunID, report.FinishedAt.Sub(report.StartedAt).Round(10*time.Millisecond))
	log.Infof("  fetched:            %d (%s)", report.Fetched, helpers.BytesToSize(uint64(report.BytesTransferred)))
	log.Infof("  skipped duplicates: %d", report.SkippedDuplicate)
	log.Infof("  failed terminally:  %d", report.FailedTerminal)
	if report.Unsupported > 0 {
		log.Infof("  unsupported formats skipped: %d", report.Unsupported)
	}
	if report.Conflicts > 0 {
		log.Infof("  path conflicts disambiguated: %d", report.Conflicts)
	}
	for partition, stats := range report.Partitions {
		log.Infof("  %s: %d fetched, %d skipped, %d failed", partition, stats.Fetched, stats.Skipped, stats.Failed)
	}
	for partition, msg := range report.PartitionErrors {
		log.Warnf("  partition %s unavailable: %s", partition, msg)
	}
	for _, f := range report.Failures {
		log.Errorf("  FAILED %s/%s -> %s [%s after %d attempt(s)]",
			f.Partition, f.AssetID, f.TargetPath, f.ErrorKind, f.Attempts)
	}
	if report.FatalError != "" {
		log.Errorf("Run aborted: %s", report.FatalError)
	}
}

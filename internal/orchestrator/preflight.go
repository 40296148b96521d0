package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/helpers"
)

// ErrInsufficientSpace aborts the run before any asset write happens. It is
// also re-raised when a worker hits ENOSPC mid-run.
var ErrInsufficientSpace = errors.New("insufficient free space on output volume")

const gigabyte = 1024 * 1024 * 1024

// checkWritable verifies the output root exists and accepts writes by
// creating and removing a probe file. Runs before any enumeration.
func checkWritable(root string) error {
	if !helpers.CheckAndMakeDir(root) {
		return fmt.Errorf("output root %s is not creatable: %w", root, os.ErrPermission)
	}
	probe := filepath.Join(root, ".write_probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("output root %s is not writable: %w", root, err)
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		log.WithError(err).Warnf("Could not remove write probe %s", probe)
	}
	return nil
}

// checkSpace requires free space of at least the configured minimum plus the
// catalog's declared size with a 10% margin. Called after the catalog build
// but before any fetch.
func checkSpace(root string, requiredGB float64, catalogBytes int64) error {
	usage, err := disk.Usage(root)
	if err != nil {
		return fmt.Errorf("checking free space for %s: %w", root, err)
	}

	need := uint64(requiredGB*gigabyte) + uint64(catalogBytes) + uint64(catalogBytes)/10
	if usage.Free < need {
		return fmt.Errorf("%w: %s free, %s needed (minimum %.1fGB plus catalog size)",
			ErrInsufficientSpace, helpers.BytesToSize(usage.Free), helpers.BytesToSize(need), requiredGB)
	}
	log.Debugf("Space preflight ok: %s free, %s needed", helpers.BytesToSize(usage.Free), helpers.BytesToSize(need))
	return nil
}

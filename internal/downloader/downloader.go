// Package downloader performs one fetch-and-write operation: stream the
// asset into a temporary file, verify it, rename it into place and stamp its
// metadata. Partial writes are never visible under the final path.
package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"go-icloud-backup/internal/helpers"
	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/source"
)

// Downloader errors, classified by the retry tracker.
var (
	ErrIntegrityMismatch = errors.New("downloaded asset failed verification")
	ErrFileSystem        = errors.New("filesystem error")
)

// Result describes one successful fetch-and-write.
type Result struct {
	Bytes       int64
	Fingerprint string // hex BLAKE3 of the written file
}

// Fetcher executes fetch-and-write operations against one output root.
type Fetcher struct {
	Source           source.AssetSource
	Root             string
	PreserveMetadata bool
	FetchTimeout     time.Duration
}

// FetchItem downloads item.Asset to resolvedPath (relative to the root).
// The sequence within one item is strict: fetch, verify, rename, metadata,
// and only then does the caller commit the dedup index. Progress events are
// emitted through emit for every phase transition and periodically while
// bytes stream in. Any failure removes the temporary file.
func (f *Fetcher) FetchItem(ctx context.Context, item models.PlannedItem, resolvedPath string, emit func(models.ProgressEvent)) (Result, error) {
	asset := item.Asset
	finalPath := filepath.Join(f.Root, filepath.FromSlash(resolvedPath))
	targetDir := filepath.Dir(finalPath)

	if err := os.MkdirAll(targetDir, 0700); err != nil {
		return Result{}, fmt.Errorf("%w: creating target directory %s: %w", ErrFileSystem, targetDir, err)
	}

	tempFile, err := os.CreateTemp(targetDir, filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating temporary file in %s: %w", ErrFileSystem, targetDir, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			tempFile.Close()
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	fetchCtx := ctx
	if f.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, f.FetchTimeout)
		defer cancel()
	}

	emit(models.ProgressEvent{ItemID: asset.Key(), Phase: models.PhaseFetching, TotalBytes: asset.SizeBytes})

	body, meta, err := f.Source.Fetch(fetchCtx, asset)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("%w: fetch timed out after %s", source.ErrTransient, f.FetchTimeout)
		}
		return Result{}, err
	}
	defer body.Close()

	counter := &helpers.CounterWriter{
		Writer: tempFile,
		OnChunk: func(total int64) {
			emit(models.ProgressEvent{ItemID: asset.Key(), Phase: models.PhaseFetching, BytesSoFar: total, TotalBytes: asset.SizeBytes})
		},
	}
	if _, err := io.Copy(counter, body); err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("%w: fetch timed out after %s", source.ErrTransient, f.FetchTimeout)
		}
		// Keep the cause in the chain so classification can see the errno
		// (a full disk surfaces here as ENOSPC on the temp file write).
		return Result{}, fmt.Errorf("%w: streaming %s: %w", source.ErrTransient, asset.Key(), err)
	}
	if err := tempFile.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: closing temporary file: %w", ErrFileSystem, err)
	}

	emit(models.ProgressEvent{ItemID: asset.Key(), Phase: models.PhaseVerifying, BytesSoFar: counter.Total, TotalBytes: asset.SizeBytes})

	if counter.Total != asset.SizeBytes {
		return Result{}, fmt.Errorf("%w: wrote %d bytes, source declared %d", ErrIntegrityMismatch, counter.Total, asset.SizeBytes)
	}
	fingerprint, err := fileFingerprint(tempFile.Name())
	if err != nil {
		return Result{}, fmt.Errorf("%w: fingerprinting %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if asset.Fingerprint != "" && !strings.EqualFold(asset.Fingerprint, fingerprint) {
		return Result{}, fmt.Errorf("%w: fingerprint %s does not match declared %s", ErrIntegrityMismatch, fingerprint, asset.Fingerprint)
	}

	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return Result{}, fmt.Errorf("%w: renaming into place: %w", ErrFileSystem, err)
	}
	shouldCleanupTemp = false

	if f.PreserveMetadata {
		f.writeMetadata(finalPath, asset, meta)
	}

	log.Debugf("Downloaded %s (%s)", resolvedPath, helpers.BytesToSize(uint64(counter.Total)))
	return Result{Bytes: counter.Total, Fingerprint: fingerprint}, nil
}

// writeMetadata stamps timestamps onto the final file and writes the opaque
// attribute bag as a sidecar. Metadata failures are logged, never fatal: the
// asset bytes are already safe on disk.
func (f *Fetcher) writeMetadata(finalPath string, asset models.AssetRecord, meta models.AssetMetadata) {
	ts := meta.CapturedAt
	if ts == nil {
		ts = asset.CreatedAt
	}
	if ts != nil {
		if err := os.Chtimes(finalPath, *ts, *ts); err != nil {
			log.WithError(err).Warnf("Could not preserve timestamps for %s", finalPath)
		}
	}

	if len(meta.Attributes) == 0 {
		return
	}
	sidecarPath := strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".json"
	if err := writeAttributeSidecar(sidecarPath, meta.Attributes); err != nil {
		log.WithError(err).Warnf("Could not write metadata sidecar for %s", finalPath)
	}
}

// fileFingerprint hashes a file with BLAKE3, hex-encoded uppercase to match
// source-provided checksums.
func fileFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

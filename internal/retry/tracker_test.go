package retry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-icloud-backup/internal/downloader"
	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/source"
)

func trackedItem(id string) models.PlannedItem {
	return models.PlannedItem{
		Asset: models.AssetRecord{
			ID:        id,
			Partition: models.Partition{Kind: models.PartitionPersonal},
		},
		TargetPath: "Personal/HEIC/" + id + ".heic",
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{fmt.Errorf("wrap: %w", source.ErrUnauthorized), "Unauthorized"},
		{fmt.Errorf("wrap: %w", syscall.ENOSPC), "InsufficientSpace"},
		{fmt.Errorf("wrap: %w", os.ErrPermission), "PermissionDenied"},
		{fmt.Errorf("wrap: %w", syscall.EACCES), "PermissionDenied"},
		{fmt.Errorf("wrap: %w", downloader.ErrIntegrityMismatch), "IntegrityMismatch"},
		{fmt.Errorf("wrap: %w", source.ErrTransient), "Transient"},
		{fmt.Errorf("wrap: %w", source.ErrNotFound), "NotFound"},
		{fmt.Errorf("wrap: %w", source.ErrSourceUnavailable), "SourceUnavailable"},
		{fmt.Errorf("wrap: %w", downloader.ErrFileSystem), "FileSystem"},
		{errors.New("mystery"), "Unknown"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.expected {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.expected)
		}
	}
}

func TestErrorKindSeesCauseThroughWraps(t *testing.T) {
	// The downloader wraps its classification sentinel and the underlying OS
	// error into the same chain; the errno must win over the outer wrap.
	diskFull := fmt.Errorf("%w: streaming Personal/p1: %w", source.ErrTransient, syscall.ENOSPC)
	require.Equal(t, "InsufficientSpace", ErrorKind(diskFull))

	denied := fmt.Errorf("%w: creating target directory x: %w", downloader.ErrFileSystem, os.ErrPermission)
	require.Equal(t, "PermissionDenied", ErrorKind(denied))
}

func TestWrappedDiskFullIsFatal(t *testing.T) {
	tr := NewTracker(3, "")
	item := trackedItem("a")

	tr.StartAttempt(item.Asset.Key())
	next, _ := tr.Fail(item, item.TargetPath,
		fmt.Errorf("%w: streaming %s: %w", source.ErrTransient, item.Asset.Key(), syscall.ENOSPC))
	require.Equal(t, Fatal, next, "a full disk must abort the run, not retry")
}

func TestTransientRetriesUpToCeiling(t *testing.T) {
	tr := NewTracker(3, "")
	item := trackedItem("a")
	transient := fmt.Errorf("fetch: %w", source.ErrTransient)

	// Attempt 1 and 2 retry with doubling backoff, attempt 3 is terminal.
	require.Equal(t, 1, tr.StartAttempt(item.Asset.Key()))
	next, wait := tr.Fail(item, item.TargetPath, transient)
	require.Equal(t, Retry, next)
	require.Equal(t, 500*time.Millisecond, wait)

	require.Equal(t, 2, tr.StartAttempt(item.Asset.Key()))
	next, wait = tr.Fail(item, item.TargetPath, transient)
	require.Equal(t, Retry, next)
	require.Equal(t, time.Second, wait)

	require.Equal(t, 3, tr.StartAttempt(item.Asset.Key()))
	next, _ = tr.Fail(item, item.TargetPath, transient)
	require.Equal(t, Terminal, next)

	failures := tr.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, "Transient", failures[0].ErrorKind)
	require.Equal(t, 3, failures[0].Attempts)
}

func TestIntegrityMismatchRetriesOnce(t *testing.T) {
	tr := NewTracker(3, "")
	item := trackedItem("a")
	mismatch := fmt.Errorf("verify: %w", downloader.ErrIntegrityMismatch)

	tr.StartAttempt(item.Asset.Key())
	next, _ := tr.Fail(item, item.TargetPath, mismatch)
	require.Equal(t, Retry, next)

	tr.StartAttempt(item.Asset.Key())
	next, _ = tr.Fail(item, item.TargetPath, mismatch)
	require.Equal(t, Terminal, next)
}

func TestFatalKindsAbortImmediately(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("list: %w", source.ErrUnauthorized),
		fmt.Errorf("write: %w", syscall.ENOSPC),
		fmt.Errorf("mkdir: %w", os.ErrPermission),
	} {
		tr := NewTracker(3, "")
		item := trackedItem("a")
		tr.StartAttempt(item.Asset.Key())
		next, _ := tr.Fail(item, item.TargetPath, err)
		require.Equal(t, Fatal, next, "error %v", err)
	}
}

func TestNotFoundIsTerminalWithoutRetry(t *testing.T) {
	tr := NewTracker(3, "")
	item := trackedItem("a")

	tr.StartAttempt(item.Asset.Key())
	next, _ := tr.Fail(item, item.TargetPath, fmt.Errorf("fetch: %w", source.ErrNotFound))
	require.Equal(t, Terminal, next)
	require.Equal(t, 1, tr.Attempts(item.Asset.Key()))
}

func TestLedgerRoundTrip(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "failure_ledger.jsonl")
	tr := NewTracker(1, ledgerPath)

	for _, id := range []string{"a", "b"} {
		item := trackedItem(id)
		tr.StartAttempt(item.Asset.Key())
		tr.Fail(item, item.TargetPath, fmt.Errorf("fetch: %w", source.ErrTransient))
	}

	failures, err := ReadLedger(ledgerPath)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	require.Equal(t, "a", failures[0].AssetID)
	require.Equal(t, "Personal", failures[0].Partition)
	require.Equal(t, "Transient", failures[0].ErrorKind)
}

func TestReadLedgerMissingFile(t *testing.T) {
	failures, err := ReadLedger(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestBackoffDoubles(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt); got != tt.expected {
			t.Errorf("backoff(%d) = %s, want %s", tt.attempt, got, tt.expected)
		}
	}
}

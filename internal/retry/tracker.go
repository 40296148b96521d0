// Package retry owns the per-item attempt state machine and the terminal
// failure ledger. Items move Pending -> Attempting -> {Succeeded | Retrying |
// FailedTerminal}; fatal error kinds additionally cancel the whole run.
package retry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/downloader"
	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/source"
)

// Next is the tracker's verdict after a failed attempt.
type Next int

const (
	// Retry re-enqueues the item after the returned backoff.
	Retry Next = iota
	// Terminal records the item in the failure ledger; the run continues.
	Terminal
	// Fatal aborts the whole run (revoked auth, disk full, permissions).
	Fatal
)

const backoffBase = 500 * time.Millisecond

// Tracker tracks attempts per planned item. Safe for use from the single
// aggregator goroutine plus ledger reads after the run.
type Tracker struct {
	maxRetries int
	ledgerPath string

	mu       sync.Mutex
	attempts map[string]int
	failures []models.TerminalFailure
}

// NewTracker creates a tracker with the given retry ceiling. maxRetries is
// the total number of attempts allowed per item, defaulting to 3. ledgerPath
// may be empty to keep the ledger in memory only.
func NewTracker(maxRetries int, ledgerPath string) *Tracker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Tracker{
		maxRetries: maxRetries,
		ledgerPath: ledgerPath,
		attempts:   map[string]int{},
	}
}

// StartAttempt transitions an item to Attempting and returns the attempt
// number, starting at 1.
func (t *Tracker) StartAttempt(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[id]++
	return t.attempts[id]
}

// Attempts returns how many attempts an item has consumed.
func (t *Tracker) Attempts(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[id]
}

// Fail classifies a failed attempt. For Retry the returned duration is the
// exponential backoff to wait before re-enqueueing. For Terminal the failure
// has already been appended to the ledger when the call returns.
func (t *Tracker) Fail(item models.PlannedItem, targetPath string, err error) (Next, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := item.Asset.Key()
	attempt := t.attempts[id]
	kind := ErrorKind(err)

	switch kind {
	case "Unauthorized", "InsufficientSpace", "PermissionDenied":
		// Affects all in-flight work, not just this item.
		t.appendFailure(item, targetPath, kind, attempt)
		return Fatal, 0
	case "IntegrityMismatch":
		// Retryable once, then terminal.
		if attempt < 2 && attempt < t.maxRetries {
			return Retry, backoff(attempt)
		}
	case "Transient":
		if attempt < t.maxRetries {
			return Retry, backoff(attempt)
		}
	}

	t.appendFailure(item, targetPath, kind, attempt)
	return Terminal, 0
}

// Failures returns the terminal failures recorded so far.
func (t *Tracker) Failures() []models.TerminalFailure {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.TerminalFailure, len(t.failures))
	copy(out, t.failures)
	return out
}

// appendFailure records a terminal failure and appends it to the ledger file.
// Callers hold t.mu.
func (t *Tracker) appendFailure(item models.PlannedItem, targetPath, kind string, attempts int) {
	failure := models.TerminalFailure{
		AssetID:    item.Asset.ID,
		Partition:  item.Asset.Partition.String(),
		TargetPath: targetPath,
		ErrorKind:  kind,
		Attempts:   attempts,
	}
	t.failures = append(t.failures, failure)

	if t.ledgerPath == "" {
		return
	}
	f, err := os.OpenFile(t.ledgerPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		log.WithError(err).Warnf("Could not open failure ledger %s", t.ledgerPath)
		return
	}
	defer f.Close()
	line, err := json.Marshal(failure)
	if err != nil {
		log.WithError(err).Warn("Could not encode ledger entry")
		return
	}
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		log.WithError(err).Warnf("Could not append to failure ledger %s", t.ledgerPath)
	}
}

// backoff doubles per attempt: 500ms, 1s, 2s, ...
func backoff(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// ErrorKind names an error for the ledger, the report and classification.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, source.ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, syscall.ENOSPC):
		return "InsufficientSpace"
	case errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES):
		return "PermissionDenied"
	case errors.Is(err, downloader.ErrIntegrityMismatch):
		return "IntegrityMismatch"
	case errors.Is(err, source.ErrTransient):
		return "Transient"
	case errors.Is(err, source.ErrNotFound):
		return "NotFound"
	case errors.Is(err, source.ErrSourceUnavailable):
		return "SourceUnavailable"
	case errors.Is(err, downloader.ErrFileSystem):
		return "FileSystem"
	default:
		return "Unknown"
	}
}

// ReadLedger loads ledger entries written by previous runs, for the ledger
// inspection command.
func ReadLedger(path string) ([]models.TerminalFailure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var failures []models.TerminalFailure
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var f models.TerminalFailure
		if err := dec.Decode(&f); err != nil {
			log.WithError(err).Warn("Skipping corrupt ledger entry")
			break
		}
		failures = append(failures, f)
	}
	return failures, nil
}

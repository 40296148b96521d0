package source

import (
	"context"
	"errors"
	"io"

	"go-icloud-backup/internal/models"
)

// Error taxonomy surfaced by asset sources. The retry tracker classifies on
// these with errors.Is, so implementations must wrap rather than replace them.
var (
	// ErrSourceUnavailable means a partition cannot be enumerated at all.
	// Fatal for that partition only; other partitions continue.
	ErrSourceUnavailable = errors.New("asset source unavailable")

	// ErrUnauthorized means the session or token is no longer valid.
	// Fatal for the whole run, never retried.
	ErrUnauthorized = errors.New("asset source unauthorized")

	// ErrNotFound means the asset disappeared between listing and fetch.
	ErrNotFound = errors.New("asset not found")

	// ErrTransient covers timeouts and 5xx-class failures, retryable per item.
	ErrTransient = errors.New("transient source error")
)

// AssetSource is the authenticated capability the engine consumes. Session
// management, token refresh and two-factor handling all live behind it.
type AssetSource interface {
	// List enumerates one partition from the beginning. Enumeration is finite
	// and restartable from the start only; idempotence across runs comes from
	// the dedup index, not from cursors.
	List(ctx context.Context, p models.Partition) ([]models.AssetRecord, error)

	// SharedAlbums returns the names of the shared albums visible to the user.
	SharedAlbums(ctx context.Context) ([]string, error)

	// Fetch opens the asset's bytes and returns its metadata bag. The caller
	// owns the reader and must close it.
	Fetch(ctx context.Context, asset models.AssetRecord) (io.ReadCloser, models.AssetMetadata, error)
}

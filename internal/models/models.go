package models

import (
	"fmt"
	"time"
)

type (
	// Config mirrors config.toml. Flag overrides are applied in the cmd layer.
	Config struct {
		Download    DownloadConfig    `toml:"download"`
		Options     OptionsConfig     `toml:"options"`
		Performance PerformanceConfig `toml:"performance"`
		Source      SourceConfig      `toml:"source"`
	}

	DownloadConfig struct {
		DefaultPath           string  `toml:"default_path"`
		RequiredSpaceGB       float64 `toml:"required_space_gb"`
		CreateTimestampFolder bool    `toml:"create_timestamp_folder"`
		DatabasePath          string  `toml:"database_path"`
		LedgerPath            string  `toml:"ledger_path"`
		BleveIndexPath        string  `toml:"bleve_index_path"`
	}

	OptionsConfig struct {
		DownloadShared   bool `toml:"download_shared"`
		DownloadAlbums   bool `toml:"download_albums"`
		PreserveMetadata bool `toml:"preserve_metadata"`
		HandleLivePhotos bool `toml:"handle_live_photos"`
	}

	PerformanceConfig struct {
		MaxRetries             int `toml:"max_retries"`
		MaxConcurrentDownloads int `toml:"max_concurrent_downloads"`
		FetchTimeoutSec        int `toml:"fetch_timeout_sec"`
	}

	SourceConfig struct {
		BaseURL     string `toml:"base_url"`
		AccessToken string `toml:"access_token"`
		LogRequests bool   `toml:"log_requests"`
	}
)

// AssetKind distinguishes still images, videos and the two halves of a Live Photo.
type AssetKind string

const (
	KindImage           AssetKind = "Image"
	KindVideo           AssetKind = "Video"
	KindLivePhotoImage  AssetKind = "LivePhotoImage"
	KindLivePhotoMotion AssetKind = "LivePhotoMotion"
)

// PartitionKind is one of the three remote asset groupings.
type PartitionKind string

const (
	PartitionPersonal     PartitionKind = "Personal"
	PartitionSharedWithMe PartitionKind = "SharedWithMe"
	PartitionSharedAlbum  PartitionKind = "SharedAlbum"
)

// Partition identifies the remote grouping an asset belongs to. Album is only
// set for PartitionSharedAlbum.
type Partition struct {
	Kind  PartitionKind
	Album string
}

// String renders a partition for logs, ledger entries and reports.
func (p Partition) String() string {
	if p.Kind == PartitionSharedAlbum {
		return fmt.Sprintf("%s:%s", p.Kind, p.Album)
	}
	return string(p.Kind)
}

// AssetRecord is the normalized descriptor of one remote media item. Records
// are built once per catalog enumeration and are immutable afterwards.
type AssetRecord struct {
	ID          string
	Kind        AssetKind
	Format      string // extension token: HEIC, JPEG, PNG, GIF, RAW, DNG, CR2, ARW, MOV, MP4, M4V
	Filename    string // original basename as reported by the source
	CreatedAt   *time.Time
	UploadedAt  *time.Time
	SizeBytes   int64
	Fingerprint string // hex content hash from the source; empty if unavailable
	LivePairID  string // links a LivePhotoImage to its LivePhotoMotion; empty otherwise
	Partition   Partition
}

// Key is unique across partitions; asset ids are only unique within one.
func (a AssetRecord) Key() string {
	return a.Partition.String() + "/" + a.ID
}

// AssetMetadata is the opaque attribute bag returned alongside asset bytes.
// The core copies it; it never interprets individual attributes.
type AssetMetadata struct {
	CapturedAt *time.Time
	Attributes map[string]string
}

// PlannedItem binds an asset to its resolved target path under the output root.
type PlannedItem struct {
	Asset       AssetRecord
	TargetPath  string // relative to the output root, forward slashes
	SiblingPath string // the Live pair counterpart's path; empty for standalone items
}

// Phase tags progress events, in rough lifecycle order.
type Phase string

const (
	PhaseEnumerated     Phase = "Enumerated"
	PhaseFetching       Phase = "Fetching"
	PhaseVerifying      Phase = "Verifying"
	PhaseWritten        Phase = "Written"
	PhaseSkipped        Phase = "Skipped"
	PhaseRetrying       Phase = "Retrying"
	PhaseFailedTerminal Phase = "FailedTerminal"
)

// ProgressEvent is emitted by workers and aggregated by the orchestrator.
// Consumers outside the core render these; the core never prints progress.
type ProgressEvent struct {
	ItemID     string
	Phase      Phase
	BytesSoFar int64
	TotalBytes int64
}

// TerminalFailure is one exhausted or non-retryable item, as persisted to the
// failure ledger and echoed in the run report.
type TerminalFailure struct {
	AssetID    string `json:"assetId"`
	Partition  string `json:"partition"`
	TargetPath string `json:"targetPath"`
	ErrorKind  string `json:"errorKind"`
	Attempts   int    `json:"attempts"`
}

// PartitionStats aggregates outcomes for one partition.
type PartitionStats struct {
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RunReport is the aggregate outcome of one backup run.
type RunReport struct {
	RunID            string                     `json:"runId"`
	StartedAt        time.Time                  `json:"startedAt"`
	FinishedAt       time.Time                  `json:"finishedAt"`
	Fetched          int                        `json:"fetched"`
	SkippedDuplicate int                        `json:"skippedDuplicate"`
	FailedTerminal   int                        `json:"failedTerminal"`
	Unsupported      int                        `json:"unsupported"`
	Conflicts        int                        `json:"conflicts"`
	BytesTransferred int64                      `json:"bytesTransferred"`
	Partitions       map[string]*PartitionStats `json:"partitions,omitempty"`
	PartitionErrors  map[string]string          `json:"partitionErrors,omitempty"`
	Failures         []TerminalFailure          `json:"failures,omitempty"`
	FatalError       string                     `json:"fatalError,omitempty"`
}

// Partition returns the mutable stats bucket for one partition, creating it on
// first use.
func (r *RunReport) Partition(name string) *PartitionStats {
	if r.Partitions == nil {
		r.Partitions = map[string]*PartitionStats{}
	}
	s, ok := r.Partitions[name]
	if !ok {
		s = &PartitionStats{}
		r.Partitions[name] = s
	}
	return s
}

// Accounted reports whether every planned item ended in a known outcome.
func (r RunReport) Accounted(total int) bool {
	return r.Fetched+r.SkippedDuplicate+r.FailedTerminal == total
}

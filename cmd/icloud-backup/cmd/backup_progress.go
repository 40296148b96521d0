package cmd

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/gosuri/uilive"

	"go-icloud-backup/index"
	"go-icloud-backup/internal/helpers"
	"go-icloud-backup/internal/models"
)

// progressRenderer turns the orchestrator's event stream into a live
// multi-line terminal display. Handle is only ever called from the
// orchestrator's single forwarder goroutine, so no locking is needed.
type progressRenderer struct {
	writer     *uilive.Writer
	enumerated int
	fetched    int
	skipped    int
	retrying   int
	failed     int
	bytes      int64
}

func newProgressRenderer() *progressRenderer {
	return &progressRenderer{writer: uilive.New()}
}

func (r *progressRenderer) Start() { r.writer.Start() }
func (r *progressRenderer) Stop()  { r.writer.Stop() }

// Handle consumes one progress event and repaints the status line.
func (r *progressRenderer) Handle(ev models.ProgressEvent) {
	switch ev.Phase {
	case models.PhaseEnumerated:
		r.enumerated++
	case models.PhaseWritten:
		r.fetched++
		r.bytes += ev.BytesSoFar
	case models.PhaseSkipped:
		r.skipped++
	case models.PhaseRetrying:
		r.retrying++
	case models.PhaseFailedTerminal:
		r.failed++
	case models.PhaseFetching, models.PhaseVerifying:
		// Byte-level progress repaints below without touching counters.
	}

	fmt.Fprintf(r.writer, "Backed up %d/%d (%s transferred, %d skipped, %d failed)\n",
		r.fetched, r.enumerated, helpers.BytesToSize(uint64(r.bytes)), r.skipped, r.failed)
	if ev.Phase == models.PhaseFetching && ev.TotalBytes > 0 {
		fmt.Fprintf(r.writer.Newline(), "  %s: %s / %s\n",
			ev.ItemID, helpers.BytesToSize(uint64(ev.BytesSoFar)), helpers.BytesToSize(uint64(ev.TotalBytes)))
	}
}

// bleveIndexer adapts the Bleve index to the orchestrator's AssetIndexer.
type bleveIndexer struct {
	idx bleve.Index
}

func (b *bleveIndexer) IndexAsset(item models.PlannedItem, resolvedPath string) error {
	asset := item.Asset
	return index.IndexItem(b.idx, index.Item{
		ID:          asset.Key(),
		AssetID:     asset.ID,
		Partition:   asset.Partition.String(),
		Album:       asset.Partition.Album,
		Kind:        string(asset.Kind),
		Format:      asset.Format,
		Filename:    asset.Filename,
		TargetPath:  resolvedPath,
		SiblingPath: item.SiblingPath,
		SizeBytes:   asset.SizeBytes,
		Fingerprint: asset.Fingerprint,
		CapturedAt:  asset.CreatedAt,
	})
}

// Package catalog normalizes remote listings into one uniform asset sequence.
package catalog

import (
	"context"
	"errors"

	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/source"

	log "github.com/sirupsen/logrus"
)

// supportedFormats is the closed set the planner knows how to place.
// Anything else is counted and dropped, never treated as an error.
var supportedFormats = map[string]bool{
	"HEIC": true,
	"JPEG": true,
	"PNG":  true,
	"GIF":  true,
	"RAW":  true,
	"DNG":  true,
	"CR2":  true,
	"ARW":  true,
	"MOV":  true,
	"MP4":  true,
	"M4V":  true,
}

// Selection controls which partitions a run enumerates.
type Selection struct {
	Personal     bool
	SharedWithMe bool
	SharedAlbums bool
}

// Result is one full catalog build. PartitionErrors holds partitions that
// could not be enumerated; the rest of the catalog is still usable.
type Result struct {
	Records         []models.AssetRecord
	Unsupported     int
	PartitionErrors map[string]string
}

// Build enumerates every selected partition from the beginning and returns the
// merged catalog. An unauthorized source aborts the build; an unavailable
// partition is recorded and skipped. Each run re-enumerates in full, relying
// on the dedup index for idempotence.
func Build(ctx context.Context, src source.AssetSource, sel Selection) (Result, error) {
	res := Result{PartitionErrors: map[string]string{}}

	var partitions []models.Partition
	if sel.Personal {
		partitions = append(partitions, models.Partition{Kind: models.PartitionPersonal})
	}
	if sel.SharedWithMe {
		partitions = append(partitions, models.Partition{Kind: models.PartitionSharedWithMe})
	}
	if sel.SharedAlbums {
		albums, err := src.SharedAlbums(ctx)
		if err != nil {
			if errors.Is(err, source.ErrUnauthorized) {
				return Result{}, err
			}
			log.WithError(err).Warn("Could not enumerate shared albums, skipping album partitions")
			res.PartitionErrors[string(models.PartitionSharedAlbum)] = err.Error()
		}
		for _, name := range albums {
			partitions = append(partitions, models.Partition{Kind: models.PartitionSharedAlbum, Album: name})
		}
	}

	for _, p := range partitions {
		records, err := src.List(ctx, p)
		if err != nil {
			if errors.Is(err, source.ErrUnauthorized) {
				return Result{}, err
			}
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			log.WithError(err).Errorf("Partition %s unavailable, continuing with remaining partitions", p)
			res.PartitionErrors[p.String()] = err.Error()
			continue
		}

		for _, rec := range records {
			if !supportedFormats[rec.Format] {
				log.Debugf("Skipping unsupported format %q for asset %s", rec.Format, rec.Key())
				res.Unsupported++
				continue
			}
			res.Records = append(res.Records, rec)
		}
		log.Infof("Partition %s: %d assets catalogued", p, len(records))
	}

	return res, nil
}

// TotalDeclaredSize sums declared sizes for the space preflight.
func TotalDeclaredSize(records []models.AssetRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.SizeBytes
	}
	return total
}

// Supported reports whether the builder would keep an asset of this format.
func Supported(format string) bool {
	return supportedFormats[format]
}

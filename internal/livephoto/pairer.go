// Package livephoto groups a Live Photo's image and motion components so both
// land in the same directory under a shared filename stem.
package livephoto

import (
	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/models"
)

// Group is one unit of planning: either a standalone asset or an
// image+motion pair. Exactly one of the shapes holds:
// Image and Motion both set (a pair), or only Image set (standalone).
type Group struct {
	Image  models.AssetRecord
	Motion *models.AssetRecord
}

// IsPair reports whether the group carries a motion counterpart.
func (g Group) IsPair() bool { return g.Motion != nil }

// pairKey scopes matching: two records pair only when they share both the
// live pair id and the partition.
type pairKey struct {
	partition string
	pairID    string
}

// Pair walks the catalog in order and emits groups. With pairing disabled,
// every motion record is demoted to a standalone video. Orphaned motion
// records (no image with the same pair id) are likewise demoted, never
// dropped. When malformed source data puts more than two records under one
// pair id, the first image and first motion in catalog order form the pair
// and the excess records are emitted standalone with a warning.
func Pair(records []models.AssetRecord, enabled bool) []Group {
	if !enabled {
		groups := make([]Group, 0, len(records))
		for _, rec := range records {
			groups = append(groups, Group{Image: demote(rec)})
		}
		return groups
	}

	// First pass: the pair member that wins each slot, in catalog order.
	images := map[pairKey]string{}
	motions := map[pairKey]string{}
	for _, rec := range records {
		if rec.LivePairID == "" {
			continue
		}
		key := pairKey{rec.Partition.String(), rec.LivePairID}
		switch rec.Kind {
		case models.KindLivePhotoImage:
			if _, taken := images[key]; !taken {
				images[key] = rec.ID
			}
		case models.KindLivePhotoMotion:
			if _, taken := motions[key]; !taken {
				motions[key] = rec.ID
			}
		}
	}

	// Second pass: emit groups at the position of each group's first record.
	motionByKey := map[pairKey]models.AssetRecord{}
	for _, rec := range records {
		if rec.Kind == models.KindLivePhotoMotion && rec.LivePairID != "" {
			key := pairKey{rec.Partition.String(), rec.LivePairID}
			if motions[key] == rec.ID {
				motionByKey[key] = rec
			}
		}
	}

	var groups []Group
	for _, rec := range records {
		key := pairKey{rec.Partition.String(), rec.LivePairID}
		switch rec.Kind {
		case models.KindLivePhotoImage:
			if rec.LivePairID == "" {
				groups = append(groups, Group{Image: demote(rec)})
				continue
			}
			if images[key] != rec.ID {
				log.Warnf("Multiple live photo images share pair id %s in %s; treating asset %s as standalone",
					rec.LivePairID, rec.Partition, rec.ID)
				groups = append(groups, Group{Image: demote(rec)})
				continue
			}
			if motion, ok := motionByKey[key]; ok {
				groups = append(groups, Group{Image: rec, Motion: &motion})
			} else {
				// Pairing key present but no motion component in the catalog.
				groups = append(groups, Group{Image: demote(rec)})
			}
		case models.KindLivePhotoMotion:
			if rec.LivePairID == "" || images[key] == "" {
				log.Debugf("Orphaned live photo motion %s, treating as standalone video", rec.Key())
				groups = append(groups, Group{Image: demote(rec)})
				continue
			}
			if motions[key] != rec.ID {
				log.Warnf("Multiple live photo motions share pair id %s in %s; treating asset %s as standalone",
					rec.LivePairID, rec.Partition, rec.ID)
				groups = append(groups, Group{Image: demote(rec)})
				continue
			}
			// Claimed by its image's group; emitted there.
		default:
			groups = append(groups, Group{Image: rec})
		}
	}
	return groups
}

// demote turns a live photo component into a standalone asset: motion becomes
// a plain video, an unpaired image stays an image.
func demote(rec models.AssetRecord) models.AssetRecord {
	switch rec.Kind {
	case models.KindLivePhotoMotion:
		rec.Kind = models.KindVideo
	case models.KindLivePhotoImage:
		rec.Kind = models.KindImage
	}
	rec.LivePairID = ""
	return rec
}

// Package planner maps asset records to target paths under the output root.
// Planning is pure: the same record always yields the same relative path, so
// re-runs land on identical paths and the dedup index can do its job.
package planner

import (
	"fmt"
	"path"
	"strings"
	"time"

	"go-icloud-backup/internal/helpers"
	"go-icloud-backup/internal/livephoto"
	"go-icloud-backup/internal/models"
)

const unknownDateFolder = "Unknown_Date"

// typeFolder buckets a format into the on-disk media type directory.
func typeFolder(format string) string {
	switch format {
	case "HEIC":
		return "HEIC"
	case "JPEG":
		return "JPEG"
	case "PNG":
		return "PNG"
	case "GIF":
		return "GIF"
	case "RAW", "DNG", "CR2", "ARW":
		return "RAW"
	case "MOV", "MP4", "M4V":
		return "Videos"
	default:
		return "Others"
	}
}

// partitionFolder returns the root-level segment(s) for a partition.
func partitionFolder(p models.Partition) string {
	switch p.Kind {
	case models.PartitionPersonal:
		return "Personal"
	case models.PartitionSharedWithMe:
		return "Shared_With_Me"
	case models.PartitionSharedAlbum:
		return path.Join("Shared_Albums", helpers.SanitizeSegment(p.Album))
	default:
		return "Others"
	}
}

// captureTime picks the timestamp the layout is keyed on: capture time,
// falling back to upload time. Nil means the Unknown_Date bucket.
func captureTime(a models.AssetRecord) *time.Time {
	if a.CreatedAt != nil {
		return a.CreatedAt
	}
	return a.UploadedAt
}

// filename returns the sanitized basename, guaranteed to carry an extension.
func filename(a models.AssetRecord) string {
	base := helpers.SanitizeSegment(a.Filename)
	if path.Ext(base) == "" {
		base += "." + strings.ToLower(a.Format)
	}
	return base
}

// Plan computes the target path for one asset, relative to the output root:
//
//	<Partition>/<TypeFolder>/<YYYY>/<MM>-<MonthName>/<YYYYMMDD_HHMMSS>_<basename>
//
// Assets with neither capture nor upload time go under Unknown_Date instead
// of the dated folders, keeping their original basename.
func Plan(a models.AssetRecord) string {
	root := path.Join(partitionFolder(a.Partition), typeFolder(a.Format))

	ts := captureTime(a)
	if ts == nil {
		return path.Join(root, unknownDateFolder, filename(a))
	}

	t := *ts
	dir := path.Join(root,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d-%s", int(t.Month()), t.Month().String()))
	return path.Join(dir, t.Format("20060102_150405")+"_"+filename(a))
}

// PlanGroup resolves a pairer group into planned items. A live pair shares
// the image's directory and filename stem: the motion component takes the
// image's path with its own extension, so the two always sort together.
func PlanGroup(g livephoto.Group) []models.PlannedItem {
	imagePath := Plan(g.Image)
	if !g.IsPair() {
		return []models.PlannedItem{{Asset: g.Image, TargetPath: imagePath}}
	}

	motion := *g.Motion
	motionExt := strings.ToLower(motion.Format)
	if ext := path.Ext(motion.Filename); ext != "" {
		motionExt = strings.TrimPrefix(strings.ToLower(ext), ".")
	}
	stem := strings.TrimSuffix(imagePath, path.Ext(imagePath))
	motionPath := stem + "." + motionExt

	return []models.PlannedItem{
		{Asset: g.Image, TargetPath: imagePath, SiblingPath: motionPath},
		{Asset: motion, TargetPath: motionPath, SiblingPath: imagePath},
	}
}

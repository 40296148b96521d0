package livephoto

import (
	"testing"

	"go-icloud-backup/internal/models"
)

func personal() models.Partition {
	return models.Partition{Kind: models.PartitionPersonal}
}

func TestPairFormsGroups(t *testing.T) {
	records := []models.AssetRecord{
		{ID: "a", Kind: models.KindImage, Partition: personal()},
		{ID: "b", Kind: models.KindLivePhotoImage, LivePairID: "p1", Partition: personal()},
		{ID: "c", Kind: models.KindLivePhotoMotion, LivePairID: "p1", Partition: personal()},
		{ID: "d", Kind: models.KindVideo, Partition: personal()},
	}

	groups := Pair(records, true)
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}
	if groups[0].IsPair() || groups[0].Image.ID != "a" {
		t.Errorf("group 0 = %+v, want standalone a", groups[0])
	}
	if !groups[1].IsPair() {
		t.Fatalf("group 1 is not a pair: %+v", groups[1])
	}
	if groups[1].Image.ID != "b" || groups[1].Motion.ID != "c" {
		t.Errorf("pair = %s+%s, want b+c", groups[1].Image.ID, groups[1].Motion.ID)
	}
	if groups[2].IsPair() || groups[2].Image.ID != "d" {
		t.Errorf("group 2 = %+v, want standalone d", groups[2])
	}
}

func TestPairDisabledDemotesMotion(t *testing.T) {
	records := []models.AssetRecord{
		{ID: "b", Kind: models.KindLivePhotoImage, LivePairID: "p1", Partition: personal()},
		{ID: "c", Kind: models.KindLivePhotoMotion, LivePairID: "p1", Partition: personal()},
	}

	groups := Pair(records, false)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Image.Kind != models.KindImage {
		t.Errorf("image component demoted to %s, want Image", groups[0].Image.Kind)
	}
	if groups[1].Image.Kind != models.KindVideo {
		t.Errorf("motion component demoted to %s, want Video", groups[1].Image.Kind)
	}
	for _, g := range groups {
		if g.Image.LivePairID != "" {
			t.Errorf("demoted record still carries pair id %q", g.Image.LivePairID)
		}
	}
}

func TestPairOrphanedMotionBecomesVideo(t *testing.T) {
	records := []models.AssetRecord{
		{ID: "c", Kind: models.KindLivePhotoMotion, LivePairID: "p1", Partition: personal()},
	}

	groups := Pair(records, true)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].IsPair() {
		t.Fatal("orphan formed a pair")
	}
	if groups[0].Image.Kind != models.KindVideo {
		t.Errorf("orphan motion kind = %s, want Video", groups[0].Image.Kind)
	}
}

func TestPairImageWithoutMotion(t *testing.T) {
	records := []models.AssetRecord{
		{ID: "b", Kind: models.KindLivePhotoImage, LivePairID: "p1", Partition: personal()},
	}

	groups := Pair(records, true)
	if len(groups) != 1 || groups[0].IsPair() {
		t.Fatalf("got %+v, want one standalone group", groups)
	}
	if groups[0].Image.Kind != models.KindImage {
		t.Errorf("unpaired live image kind = %s, want Image", groups[0].Image.Kind)
	}
}

func TestPairExcessMembersFirstWins(t *testing.T) {
	records := []models.AssetRecord{
		{ID: "i1", Kind: models.KindLivePhotoImage, LivePairID: "p1", Partition: personal()},
		{ID: "i2", Kind: models.KindLivePhotoImage, LivePairID: "p1", Partition: personal()},
		{ID: "m1", Kind: models.KindLivePhotoMotion, LivePairID: "p1", Partition: personal()},
	}

	groups := Pair(records, true)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if !groups[0].IsPair() || groups[0].Image.ID != "i1" || groups[0].Motion.ID != "m1" {
		t.Errorf("first pair = %+v, want i1+m1", groups[0])
	}
	if groups[1].IsPair() || groups[1].Image.ID != "i2" {
		t.Errorf("excess image not emitted standalone: %+v", groups[1])
	}
}

func TestPairIsPartitionScoped(t *testing.T) {
	shared := models.Partition{Kind: models.PartitionSharedWithMe}
	records := []models.AssetRecord{
		{ID: "b", Kind: models.KindLivePhotoImage, LivePairID: "p1", Partition: personal()},
		{ID: "c", Kind: models.KindLivePhotoMotion, LivePairID: "p1", Partition: shared},
	}

	groups := Pair(records, true)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	for _, g := range groups {
		if g.IsPair() {
			t.Errorf("pair formed across partitions: %+v", g)
		}
	}
}

func TestPairKeepsEveryRecord(t *testing.T) {
	records := []models.AssetRecord{
		{ID: "a", Kind: models.KindImage, Partition: personal()},
		{ID: "b", Kind: models.KindLivePhotoImage, LivePairID: "p1", Partition: personal()},
		{ID: "c", Kind: models.KindLivePhotoMotion, LivePairID: "p1", Partition: personal()},
		{ID: "d", Kind: models.KindLivePhotoMotion, LivePairID: "p2", Partition: personal()},
		{ID: "e", Kind: models.KindVideo, Partition: personal()},
	}

	groups := Pair(records, true)
	seen := map[string]bool{}
	for _, g := range groups {
		seen[g.Image.ID] = true
		if g.Motion != nil {
			seen[g.Motion.ID] = true
		}
	}
	for _, rec := range records {
		if !seen[rec.ID] {
			t.Errorf("record %s lost during pairing", rec.ID)
		}
	}
}

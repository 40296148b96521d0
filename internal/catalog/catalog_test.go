package catalog

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"go-icloud-backup/internal/models"
	"go-icloud-backup/internal/source"
)

// fakeSource serves canned listings keyed by partition string.
type fakeSource struct {
	albums    []string
	albumsErr error
	records   map[string][]models.AssetRecord
	listErr   map[string]error
}

func (f *fakeSource) List(ctx context.Context, p models.Partition) ([]models.AssetRecord, error) {
	if err := f.listErr[p.String()]; err != nil {
		return nil, err
	}
	return f.records[p.String()], nil
}

func (f *fakeSource) SharedAlbums(ctx context.Context) ([]string, error) {
	return f.albums, f.albumsErr
}

func (f *fakeSource) Fetch(ctx context.Context, asset models.AssetRecord) (io.ReadCloser, models.AssetMetadata, error) {
	return nil, models.AssetMetadata{}, fmt.Errorf("not implemented")
}

func record(id, format string, p models.Partition) models.AssetRecord {
	return models.AssetRecord{ID: id, Kind: models.KindImage, Format: format, Filename: id + ".bin", SizeBytes: 10, Partition: p}
}

func TestBuildMergesSelectedPartitions(t *testing.T) {
	personal := models.Partition{Kind: models.PartitionPersonal}
	shared := models.Partition{Kind: models.PartitionSharedWithMe}
	album := models.Partition{Kind: models.PartitionSharedAlbum, Album: "vacation"}

	src := &fakeSource{
		albums: []string{"vacation"},
		records: map[string][]models.AssetRecord{
			personal.String(): {record("p1", "HEIC", personal), record("p2", "JPEG", personal)},
			shared.String():   {record("s1", "PNG", shared)},
			album.String():    {record("a1", "MOV", album)},
		},
	}

	res, err := Build(context.Background(), src, Selection{Personal: true, SharedWithMe: true, SharedAlbums: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 4)
	require.Empty(t, res.PartitionErrors)
	require.Equal(t, int64(40), TotalDeclaredSize(res.Records))
}

func TestBuildRespectsSelection(t *testing.T) {
	personal := models.Partition{Kind: models.PartitionPersonal}
	shared := models.Partition{Kind: models.PartitionSharedWithMe}

	src := &fakeSource{
		records: map[string][]models.AssetRecord{
			personal.String(): {record("p1", "HEIC", personal)},
			shared.String():   {record("s1", "PNG", shared)},
		},
	}

	res, err := Build(context.Background(), src, Selection{Personal: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, "p1", res.Records[0].ID)
}

func TestBuildCountsUnsupportedFormats(t *testing.T) {
	personal := models.Partition{Kind: models.PartitionPersonal}
	src := &fakeSource{
		records: map[string][]models.AssetRecord{
			personal.String(): {
				record("p1", "HEIC", personal),
				record("p2", "BMP", personal),
				record("p3", "TIFF", personal),
			},
		},
	}

	res, err := Build(context.Background(), src, Selection{Personal: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, 2, res.Unsupported)
}

func TestBuildUnauthorizedAborts(t *testing.T) {
	personal := models.Partition{Kind: models.PartitionPersonal}
	src := &fakeSource{
		listErr: map[string]error{
			personal.String(): fmt.Errorf("%w: status 401", source.ErrUnauthorized),
		},
	}

	_, err := Build(context.Background(), src, Selection{Personal: true})
	require.ErrorIs(t, err, source.ErrUnauthorized)
}

func TestBuildPartitionFailureIsConfined(t *testing.T) {
	personal := models.Partition{Kind: models.PartitionPersonal}
	shared := models.Partition{Kind: models.PartitionSharedWithMe}
	src := &fakeSource{
		records: map[string][]models.AssetRecord{
			personal.String(): {record("p1", "HEIC", personal)},
		},
		listErr: map[string]error{
			shared.String(): fmt.Errorf("%w: status 502", source.ErrSourceUnavailable),
		},
	}

	res, err := Build(context.Background(), src, Selection{Personal: true, SharedWithMe: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Contains(t, res.PartitionErrors, "SharedWithMe")
}

func TestBuildAlbumEnumerationFailureIsConfined(t *testing.T) {
	personal := models.Partition{Kind: models.PartitionPersonal}
	src := &fakeSource{
		albumsErr: fmt.Errorf("%w: status 503", source.ErrSourceUnavailable),
		records: map[string][]models.AssetRecord{
			personal.String(): {record("p1", "HEIC", personal)},
		},
	}

	res, err := Build(context.Background(), src, Selection{Personal: true, SharedAlbums: true})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Contains(t, res.PartitionErrors, string(models.PartitionSharedAlbum))
}

func TestSupported(t *testing.T) {
	for _, format := range []string{"HEIC", "JPEG", "PNG", "GIF", "RAW", "DNG", "CR2", "ARW", "MOV", "MP4", "M4V"} {
		require.True(t, Supported(format), format)
	}
	require.False(t, Supported("BMP"))
	require.False(t, Supported("heic")) // formats are normalized upstream
}

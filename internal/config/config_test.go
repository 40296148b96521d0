package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go-icloud-backup/internal/models"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Download.DefaultPath)
	require.Equal(t, float64(10), cfg.Download.RequiredSpaceGB)
	require.Equal(t, 3, cfg.Performance.MaxRetries)
	require.Equal(t, 4, cfg.Performance.MaxConcurrentDownloads)
	require.Equal(t, 120, cfg.Performance.FetchTimeoutSec)
	require.Equal(t, "https://photos.icloud.com", cfg.Source.BaseURL)
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[download]
default_path = "/backups/photos"
required_space_gb = 25.5
create_timestamp_folder = true

[options]
download_shared = true
download_albums = true
preserve_metadata = true
handle_live_photos = true

[performance]
max_retries = 5
max_concurrent_downloads = 8
fetch_timeout_sec = 60

[source]
base_url = "https://photos.example.com/"
access_token = "tok"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/backups/photos", cfg.Download.DefaultPath)
	require.Equal(t, 25.5, cfg.Download.RequiredSpaceGB)
	require.True(t, cfg.Download.CreateTimestampFolder)
	require.True(t, cfg.Options.DownloadShared)
	require.True(t, cfg.Options.PreserveMetadata)
	require.Equal(t, 5, cfg.Performance.MaxRetries)
	require.Equal(t, 8, cfg.Performance.MaxConcurrentDownloads)
	require.Equal(t, 60, cfg.Performance.FetchTimeoutSec)
	require.Equal(t, "tok", cfg.Source.AccessToken)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[download\nbroken"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := models.Config{}
	cfg.Download.DefaultPath = "/custom"
	cfg.Performance.MaxRetries = 7
	ApplyDefaults(&cfg)

	require.Equal(t, "/custom", cfg.Download.DefaultPath)
	require.Equal(t, 7, cfg.Performance.MaxRetries)
	require.Equal(t, 4, cfg.Performance.MaxConcurrentDownloads)
}

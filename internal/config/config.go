package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"go-icloud-backup/internal/models"
)

// Load reads configuration from the given TOML file (default "config.toml")
// and applies defaults for everything left unset. A missing file is not an
// error on its own; flags can supply the rest.
func Load(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}

	var cfg models.Config
	if _, err := os.Stat(configFilePath); err == nil {
		if _, err := toml.DecodeFile(configFilePath, &cfg); err != nil {
			return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
		}
		log.Infof("Configuration loaded from %s", configFilePath)
	} else {
		log.Debugf("No config file at %s, using defaults and flags", configFilePath)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyDefaults fills zero values with the documented defaults.
func ApplyDefaults(cfg *models.Config) {
	if cfg.Download.DefaultPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Download.DefaultPath = filepath.Join(home, "Pictures", "iCloud_Backup")
	}
	if cfg.Download.RequiredSpaceGB <= 0 {
		cfg.Download.RequiredSpaceGB = 10
	}
	if cfg.Performance.MaxRetries <= 0 {
		cfg.Performance.MaxRetries = 3
	}
	if cfg.Performance.MaxConcurrentDownloads <= 0 {
		cfg.Performance.MaxConcurrentDownloads = 4
	}
	if cfg.Performance.FetchTimeoutSec <= 0 {
		cfg.Performance.FetchTimeoutSec = 120
	}
	if cfg.Source.BaseURL == "" {
		cfg.Source.BaseURL = "https://photos.icloud.com"
	}
}

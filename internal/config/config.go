// Package config loads runtime settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every setting the pare command reads at startup.
type Config struct {
	// LedgerPath is the backing file. The extension picks the encoding.
	LedgerPath string `env:"PARE_LEDGER_PATH" envDefault:"./data/ledger.pson"`

	// DBPath is where export-sqlite writes its snapshot.
	DBPath string `env:"PARE_DB_PATH" envDefault:"./data/ledger.db"`

	// ReportPath is where export-xlsx writes its workbook.
	ReportPath string `env:"PARE_REPORT_PATH" envDefault:"./data/ledger.xlsx"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DefaultUserName and DefaultUserID stand in for the current user when
	// no directory is configured or it cannot be reached.
	DefaultUserName string `env:"PARE_DEFAULT_USER_NAME"`
	DefaultUserID   string `env:"PARE_DEFAULT_USER_ID"`

	// DirectoryBaseURL enables identity lookups against a Graph-style user
	// directory. Empty disables them.
	DirectoryBaseURL string `env:"PARE_DIRECTORY_BASE_URL"`
	DirectoryToken   string `env:"PARE_DIRECTORY_TOKEN"`

	SearchCacheSize int `env:"PARE_SEARCH_CACHE_SIZE" envDefault:"256"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SearchCacheSize <= 0 {
		return Config{}, fmt.Errorf("parse env: PARE_SEARCH_CACHE_SIZE must be positive, got %d", cfg.SearchCacheSize)
	}
	return cfg, nil
}

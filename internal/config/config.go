// Package config loads the server configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yardops/tariff-engine/internal/logging"
)

// Config is the main application configuration.
type Config struct {
	// Port is the HTTP listen port
	Port int `json:"port"`

	// DatabasePath is the SQLite database file
	DatabasePath string `json:"database_path"`

	// SeedFile optionally points at a JSON tariff seed, loaded on startup
	SeedFile string `json:"seed_file,omitempty"`

	// StrictSizes rejects unclassifiable ISO type codes instead of
	// defaulting to 40ft
	StrictSizes bool `json:"strict_sizes"`

	// BulkWorkers bounds batch calculation fan-out (0 = NumCPU)
	BulkWorkers int `json:"bulk_workers"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Port:         8080,
		DatabasePath: "tariff-engine.db",
		Logging:      logging.DefaultConfig(),
	}
}

// Load reads a configuration file, falling back to defaults when the
// path is empty or the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

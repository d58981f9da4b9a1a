package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/ken-matsui/morello/internal/logging"
)

// Config is morello's TOML configuration file: a handful of top-level
// scalar sections, no nesting beyond one level.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Search   SearchConfig   `toml:"search"`
	Log      logging.Config `toml:"log"`
}

// DatabaseConfig selects and configures the backing Database
// (db.MemDatabase or db.BadgerDatabase).
type DatabaseConfig struct {
	// Backend is "memory" or "badger".
	Backend string `toml:"backend"`
	// Dir is the badger data directory; ignored for backend "memory".
	Dir string `toml:"dir"`
}

// SearchConfig holds the top-level search.TopDown parameters a config file
// or flags may set as defaults.
type SearchConfig struct {
	TopK        int  `toml:"top-k"`
	TilingDepth *int `toml:"tiling-depth"`
	Jobs        int  `toml:"jobs"`
}

// DefaultConfig matches running morello with no config file at all: an
// in-memory database, top_k=1, unbounded tiling depth, all cores.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Backend: "memory"},
		Search:   SearchConfig{TopK: 1, Jobs: 0},
		Log:      logging.DefaultConfig(),
	}
}

// LoadConfig reads and decodes a TOML config file at path, starting from
// DefaultConfig so an absent section falls back to its default rather than
// a zero value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, errors.Errorf("config file %s does not exist", path)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, errors.Annotatef(err, "decoding config file %s", path)
	}
	return cfg, nil
}

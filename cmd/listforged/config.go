package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dnsdash/listforge/upstream"
)

// Config is the daemon configuration, loaded from YAML.
type Config struct {
	// Listen is the dashboard API bind address.
	Listen string `yaml:"listen"`

	// Database selects the persistence backend mirroring cached lists:
	// badger (local disk, default) or dynamo (shared table).
	Database struct {
		Type  string `yaml:"type"`
		Path  string `yaml:"path"`
		Table string `yaml:"table"`
	} `yaml:"database"`

	// Nodes lists the DNS-serving nodes' admin API endpoints. Ignored when
	// ConfigFile is set.
	Nodes []upstream.Endpoint `yaml:"nodes"`

	// ConfigFile, when set, serves blocking configurations from a local
	// YAML file (auto-reloaded) instead of the nodes' admin APIs.
	ConfigFile string `yaml:"config_file"`

	FreshnessWindow time.Duration `yaml:"freshness_window"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
}

func loadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "badger"
	}
	if cfg.Database.Type == "badger" && cfg.Database.Path == "" {
		cfg.Database.Path = "listforge.db"
	}
	if cfg.ConfigFile == "" && len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("%s: either nodes or config_file must be set", path)
	}
	return cfg, nil
}

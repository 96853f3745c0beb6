// Package cloneconfig loads clone.cfg, the clone installation's identity
// and tuning parameters, and cross-checks it against the original's own
// config file.
package cloneconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the clone.cfg file: the clone's own identity plus a pointer
// to the original's config, so the two installations can be checked for
// a matching name before any sync runs.
type Config struct {
	Clone    Clone    `yaml:"clone"`
	Original Original `yaml:"original"`
}

// Clone describes this clone installation.
type Clone struct {
	Name          string `yaml:"name"`
	Top           string `yaml:"top"`            // clone top directory: pool/, cpool/, pc/, tmp/, etc.
	PoolBatchSize int    `yaml:"pool_batch_size,omitempty"`
	CacheSizeKB   int    `yaml:"cache_size_kb,omitempty"`
}

// Original points at the original BackupPC installation this clone
// mirrors.
type Original struct {
	Top        string `yaml:"top"`         // original top directory
	ConfigPath string `yaml:"config_path"` // path to the original's own config, for the identity check
}

// originalConfig is the minimal shape read from the original's config
// file: only the field the identity check needs.
type originalConfig struct {
	BackupPCClone struct {
		Name string `yaml:"name"`
	} `yaml:"BackupPC Clone"`
}

const defaultPoolBatchSize = 10000

// Load reads clone.cfg from path, applying defaults for unset tunables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clone config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse clone config %s: %w", path, err)
	}

	if cfg.Clone.Name == "" {
		return nil, fmt.Errorf("clone config %s: clone.name is required", path)
	}
	if cfg.Clone.Top == "" {
		return nil, fmt.Errorf("clone config %s: clone.top is required", path)
	}
	if cfg.Original.Top == "" {
		return nil, fmt.Errorf("clone config %s: original.top is required", path)
	}
	if cfg.Clone.PoolBatchSize == 0 {
		cfg.Clone.PoolBatchSize = defaultPoolBatchSize
	}

	return &cfg, nil
}

// CheckIdentity verifies that the original's own config agrees this
// clone is the one it expects: the `name` field under `BackupPC Clone`
// in the original's config must match clone.cfg's clone.name, otherwise
// the two installations may be cross-wired.
func (c *Config) CheckIdentity() error {
	if c.Original.ConfigPath == "" {
		return fmt.Errorf("original.config_path is not set; cannot verify identity")
	}
	data, err := os.ReadFile(c.Original.ConfigPath)
	if err != nil {
		return fmt.Errorf("read original config %s: %w", c.Original.ConfigPath, err)
	}

	var oc originalConfig
	if err := yaml.Unmarshal(data, &oc); err != nil {
		return fmt.Errorf("parse original config %s: %w", c.Original.ConfigPath, err)
	}

	if oc.BackupPCClone.Name != c.Clone.Name {
		return fmt.Errorf("identity mismatch: clone.cfg names %q, original config names %q",
			c.Clone.Name, oc.BackupPCClone.Name)
	}
	return nil
}

// Layout resolves the clone's well-known subdirectories.
type Layout struct {
	Top       string
	Pool      string
	CPool     string
	PC        string
	Tmp       string
	Trash     string
	Etc       string
	CatalogDB string
}

// Layout computes the clone's filesystem layout from its top directory.
func (c *Config) Layout() Layout {
	top := c.Clone.Top
	return Layout{
		Top:       top,
		Pool:      filepath.Join(top, "pool"),
		CPool:     filepath.Join(top, "cpool"),
		PC:        filepath.Join(top, "pc"),
		Tmp:       filepath.Join(top, "tmp"),
		Trash:     filepath.Join(top, "trash"),
		Etc:       filepath.Join(top, "etc"),
		CatalogDB: filepath.Join(top, "clone.db"),
	}
}

// OriginalLayout resolves the original's well-known subdirectories.
type OriginalLayout struct {
	Top   string
	Pool  string
	CPool string
	PC    string
}

// OriginalLayout computes the original's filesystem layout.
func (c *Config) OriginalLayout() OriginalLayout {
	top := c.Original.Top
	return OriginalLayout{
		Top:   top,
		Pool:  filepath.Join(top, "pool"),
		CPool: filepath.Join(top, "cpool"),
		PC:    filepath.Join(top, "pc"),
	}
}

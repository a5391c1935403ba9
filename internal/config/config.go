package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/treesyncd/internal/ignore"
	"github.com/schaermu/treesyncd/internal/sync"
)

const (
	DefaultListenAddr = "127.0.0.1:8787"
	DefaultDebounce   = 2 * time.Second
)

// Config represents the complete treesyncd configuration
type Config struct {
	Source      string       `yaml:"source"`
	Destination string       `yaml:"destination"`
	Sync        SyncConfig   `yaml:"sync"`
	Ignore      IgnoreConfig `yaml:"ignore"`
	Serve       ServeConfig  `yaml:"serve"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	// Recursive is a pointer so an omitted key can default to true
	Recursive *bool `yaml:"recursive"`
	DryRun    bool  `yaml:"dry_run"`
}

// IgnoreConfig lists source entries excluded from the sync. Names match
// exactly; patterns are doublestar globs matched against the entry name.
type IgnoreConfig struct {
	Names    []string `yaml:"names"`
	Patterns []string `yaml:"patterns"`
}

// ServeConfig configures the trigger server
type ServeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ListenAddr        string        `yaml:"listen_addr"`
	TriggerSecretFile string        `yaml:"trigger_secret_file"`
	Debounce          time.Duration `yaml:"debounce"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML, expands environment variables and applies defaults.
// It does not validate, so callers can overlay command line values first.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables in path-like fields
func (c *Config) expandEnv() {
	c.Source = os.ExpandEnv(c.Source)
	c.Destination = os.ExpandEnv(c.Destination)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.TriggerSecretFile = os.ExpandEnv(c.Serve.TriggerSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.Recursive == nil {
		recursive := true
		c.Sync.Recursive = &recursive
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	if c.Serve.Debounce == 0 {
		c.Serve.Debounce = DefaultDebounce
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if err := sync.Validate(c.Source, c.Destination); err != nil {
		return err
	}

	if !filepath.IsAbs(c.Source) {
		return fmt.Errorf("source must be an absolute path: %s", c.Source)
	}
	if !filepath.IsAbs(c.Destination) {
		return fmt.Errorf("destination must be an absolute path: %s", c.Destination)
	}
	if err := CheckOverlap(c.Source, c.Destination); err != nil {
		return err
	}

	for _, name := range c.Ignore.Names {
		if name == "" {
			return fmt.Errorf("ignore.names must not contain empty entries")
		}
	}
	if _, err := ignore.Patterns(c.Ignore.Patterns...); err != nil {
		return fmt.Errorf("ignore.patterns: %w", err)
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.TriggerSecretFile == "" {
			return fmt.Errorf("serve.trigger_secret_file is required when serve is enabled")
		}
		if c.Serve.Debounce < 0 {
			return fmt.Errorf("serve.debounce must not be negative: %s", c.Serve.Debounce)
		}
	}

	return nil
}

// CheckOverlap rejects a source and destination that are the same directory
// or where one lies inside the other. Relative paths are resolved against the
// working directory.
func CheckOverlap(source, destination string) error {
	src, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("resolve source: %w", err)
	}
	dst, err := filepath.Abs(destination)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}

	switch {
	case src == dst:
		return fmt.Errorf("source and destination must differ: %s", source)
	case within(src, dst):
		return fmt.Errorf("destination must not be inside source: %s", destination)
	case within(dst, src):
		return fmt.Errorf("source must not be inside destination: %s", source)
	}
	return nil
}

// within reports whether path lies below dir. Both must be clean and absolute.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsRecursive reports the effective recursive setting
func (c *Config) IsRecursive() bool {
	return c.Sync.Recursive == nil || *c.Sync.Recursive
}

// IgnoreFilter combines ignore.names and ignore.patterns into one filter
func (c *Config) IgnoreFilter() (ignore.Filter, error) {
	patterns, err := ignore.Patterns(c.Ignore.Patterns...)
	if err != nil {
		return ignore.None(), err
	}
	return ignore.Any(ignore.Names(c.Ignore.Names...), patterns), nil
}

// SyncOptions builds engine options from the configuration. Hooks are left
// for the caller to set.
func (c *Config) SyncOptions() (sync.Options, error) {
	filter, err := c.IgnoreFilter()
	if err != nil {
		return sync.Options{}, err
	}
	return sync.Options{
		NonRecursive: !c.IsRecursive(),
		Ignore:       filter,
		DryRun:       c.Sync.DryRun,
	}, nil
}

// Summary returns key/value pairs describing the configuration for logging
func (c *Config) Summary() []any {
	return []any{
		"source", c.Source,
		"destination", c.Destination,
		"recursive", c.IsRecursive(),
		"ignore_names", len(c.Ignore.Names),
		"ignore_patterns", len(c.Ignore.Patterns),
		"dry_run", c.Sync.DryRun,
	}
}

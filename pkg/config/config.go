// Package config provides configuration management for the modelstore
// engine. It handles loading, validating and persisting application settings
// from YAML files and supplies sensible defaults. Settings are copied into a
// session record at submit time and are immutable once the session starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/glorpus-work/modelstore/pkg/fsutil"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Settings Settings `yaml:"settings"`
}

// Settings represents general application settings.
type Settings struct {
	// Storage settings. StorageDir is the root under which blobs/, partial/
	// and the state database live.
	StorageDir string `yaml:"storage_dir,omitempty"`

	// Transfer settings.
	ChunkSizeBytes int64         `yaml:"chunk_size_bytes"`
	ChunkWorkers   int           `yaml:"chunk_workers"`
	ChunkRetries   int           `yaml:"chunk_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	UserAgent      string        `yaml:"user_agent,omitempty"`

	// Admission settings.
	MaxConcurrentDownloads int `yaml:"max_concurrent_downloads"`

	// Cleanup settings.
	FreeSpaceThresholdBytes int64 `yaml:"free_space_threshold_bytes"`
	NeverUsedGraceDays      int   `yaml:"never_used_grace_days"`

	// Event settings.
	ProgressEventsPerSecond int `yaml:"progress_events_per_second"`

	// Hook settings. HooksDir holds tengo scripts named after hook types.
	HooksDir string `yaml:"hooks_dir,omitempty"`

	// Output settings.
	LogLevel string `yaml:"log_level"` // error, warn, info, debug
}

// Default configuration values.
const (
	// DefaultChunkSize is the default size of a transfer chunk.
	DefaultChunkSize = 10 * 1024 * 1024 // 10 MiB

	// DefaultChunkWorkers is the default number of parallel range fetches per session.
	DefaultChunkWorkers = 4

	// DefaultChunkRetries is the default per-chunk retry budget.
	DefaultChunkRetries = 3

	// DefaultRetryBaseDelay is the initial per-chunk backoff delay.
	DefaultRetryBaseDelay = time.Second

	// DefaultHTTPTimeout is the default timeout for individual HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMaxConcurrentDownloads is the default global concurrency bound.
	DefaultMaxConcurrentDownloads = 4

	// DefaultFreeSpaceThreshold is the free-space level below which the
	// storage manager reports being low on space.
	DefaultFreeSpaceThreshold = 5 * 1024 * 1024 * 1024 // 5 GiB

	// DefaultNeverUsedGraceDays is the grace period before a never-used
	// model is treated as maximal priority-to-remove.
	DefaultNeverUsedGraceDays = 7

	// DefaultProgressEventsPerSecond caps progress event emission per session.
	DefaultProgressEventsPerSecond = 10
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir, err := fsutil.GetDataDir()
	if err != nil {
		// Fallback to current directory if we can't determine user data dir
		dataDir = "."
	}

	return &Config{
		Settings: Settings{
			StorageDir:              dataDir,
			ChunkSizeBytes:          DefaultChunkSize,
			ChunkWorkers:            DefaultChunkWorkers,
			ChunkRetries:            DefaultChunkRetries,
			RetryBaseDelay:          DefaultRetryBaseDelay,
			HTTPTimeout:             DefaultHTTPTimeout,
			MaxConcurrentDownloads:  DefaultMaxConcurrentDownloads,
			FreeSpaceThresholdBytes: DefaultFreeSpaceThreshold,
			NeverUsedGraceDays:      DefaultNeverUsedGraceDays,
			ProgressEventsPerSecond: DefaultProgressEventsPerSecond,
			LogLevel:                "info",
		},
	}
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.ErrEmptyConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfigPath, err.Error())
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", absPath)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfigParse, err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigOrDefault loads the config at path when it exists and falls back
// to the defaults otherwise.
func LoadConfigOrDefault(path string) (*Config, error) {
	if path == "" {
		defaultPath, err := fsutil.GetDefaultConfigPath()
		if err == nil {
			path = defaultPath
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(path)
		}
	}
	return DefaultConfig(), nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	s := &c.Settings
	if s.StorageDir == "" {
		return fmt.Errorf("storage_dir cannot be empty: %w", errors.ErrConfigValidation)
	}
	if s.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be positive: %w", errors.ErrConfigValidation)
	}
	if s.ChunkWorkers <= 0 {
		return fmt.Errorf("chunk_workers must be positive: %w", errors.ErrConfigValidation)
	}
	if s.ChunkRetries < 0 {
		return fmt.Errorf("chunk_retries cannot be negative: %w", errors.ErrConfigValidation)
	}
	if s.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("max_concurrent_downloads must be positive: %w", errors.ErrConfigValidation)
	}
	if s.ProgressEventsPerSecond <= 0 {
		return fmt.Errorf("progress_events_per_second must be positive: %w", errors.ErrConfigValidation)
	}
	return nil
}

// Save writes the configuration to a file, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	if path == "" {
		return errors.ErrEmptyConfigPath
	}
	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return os.WriteFile(path, data, fsutil.FileModeSecure)
}

// GetBlobsDir returns the directory blobs are committed under.
func (c *Config) GetBlobsDir() string {
	return filepath.Join(c.Settings.StorageDir, "blobs")
}

// GetPartialDir returns the directory in-progress downloads are written to.
func (c *Config) GetPartialDir() string {
	return filepath.Join(c.Settings.StorageDir, "partial")
}

// GetTmpDir returns the directory for temporary files.
func (c *Config) GetTmpDir() string {
	return filepath.Join(c.Settings.StorageDir, "tmp")
}

// GetDatabasePath returns the path of the state database.
func (c *Config) GetDatabasePath() string {
	return filepath.Join(c.Settings.StorageDir, "state.db")
}

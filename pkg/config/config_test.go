package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glorpus-work/modelstore/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(10*1024*1024), cfg.Settings.ChunkSizeBytes)
	assert.Equal(t, 4, cfg.Settings.ChunkWorkers)
	assert.Equal(t, 3, cfg.Settings.ChunkRetries)
	assert.Equal(t, time.Second, cfg.Settings.RetryBaseDelay)
	assert.Equal(t, 4, cfg.Settings.MaxConcurrentDownloads)
	assert.Equal(t, 10, cfg.Settings.ProgressEventsPerSecond)
	assert.Equal(t, "info", cfg.Settings.LogLevel)
	assert.NotEmpty(t, cfg.Settings.StorageDir)
}

func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Settings.StorageDir = "/var/lib/modelstore"
	cfg.Settings.ChunkWorkers = 8
	cfg.Settings.LogLevel = "debug"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/modelstore", loaded.Settings.StorageDir)
	assert.Equal(t, 8, loaded.Settings.ChunkWorkers)
	assert.Equal(t, "debug", loaded.Settings.LogLevel)
	// Unset fields keep their defaults.
	assert.Equal(t, int64(DefaultChunkSize), loaded.Settings.ChunkSizeBytes)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig("")
	assert.ErrorIs(t, err, errors.ErrEmptyConfigPath)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("settings: [not a map"), 0o644))
	_, err = LoadConfig(badPath)
	assert.ErrorIs(t, err, errors.ErrConfigParse)
}

func TestLoadConfigOrDefault_MissingFileFallsBack(t *testing.T) {
	cfg, err := LoadConfigOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkWorkers, cfg.Settings.ChunkWorkers)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty storage dir", mutate: func(c *Config) { c.Settings.StorageDir = "" }},
		{name: "zero chunk size", mutate: func(c *Config) { c.Settings.ChunkSizeBytes = 0 }},
		{name: "zero workers", mutate: func(c *Config) { c.Settings.ChunkWorkers = 0 }},
		{name: "negative retries", mutate: func(c *Config) { c.Settings.ChunkRetries = -1 }},
		{name: "zero concurrency", mutate: func(c *Config) { c.Settings.MaxConcurrentDownloads = 0 }},
		{name: "zero event rate", mutate: func(c *Config) { c.Settings.ProgressEventsPerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrConfigValidation)
		})
	}
}

func TestConfig_PathHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.StorageDir = "/data"
	assert.Equal(t, filepath.Join("/data", "blobs"), cfg.GetBlobsDir())
	assert.Equal(t, filepath.Join("/data", "partial"), cfg.GetPartialDir())
	assert.Equal(t, filepath.Join("/data", "tmp"), cfg.GetTmpDir())
	assert.Equal(t, filepath.Join("/data", "state.db"), cfg.GetDatabasePath())
}

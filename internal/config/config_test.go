// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":9090"
storage:
  backend: sqlite
  path: /tmp/scrapecast.db
plugins:
  overrides:
    alpha-index:
      timeout_seconds: 20
      disabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 20, cfg.Plugins.Overrides["alpha-index"].TimeoutSeconds)
	assert.True(t, cfg.Plugins.Overrides["alpha-index"].Disabled)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Stream.TopN)
	assert.Equal(t, 10.0, cfg.Scraping.InitialRate)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listn: \":9090\"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "typoed keys must fail loudly")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":9090\"\n"), 0o644))

	t.Setenv("SCRAPECAST_LISTEN", ":7070")
	t.Setenv("SCRAPECAST_STORAGE_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestValidateReportsAllProblemsWithPaths(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "etcd"
	cfg.Stream.Exploration = 2
	cfg.Scraping.BreakerThreshold = 0
	cfg.Log.Level = "loud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.Contains(t, err.Error(), "stream.exploration")
	assert.Contains(t, err.Error(), "scraping.breaker_threshold")
	assert.Contains(t, err.Error(), "log.level")
}

func TestValidateRedisNeedsAddr(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "redis"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.addr")

	cfg.Storage.Addr = "localhost:6379"
	assert.NoError(t, Validate(cfg))
}

func TestValidateRateBounds(t *testing.T) {
	cfg := Default()
	cfg.Scraping.InitialRate = 100 // above max_rate
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scraping.initial_rate")
}

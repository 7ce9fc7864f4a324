package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 256, cfg.CacheCapacity)
	assert.Equal(t, 10, cfg.BagCapacity)
	assert.Equal(t, 60*time.Second, cfg.BagLease)
	assert.Contains(t, cfg.Root, ".bali")
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root: /tmp/bali-test\ncacheCapacity: 64\nbagLease: 120\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bali-test", cfg.Root)
	assert.Equal(t, 64, cfg.CacheCapacity)
	assert.Equal(t, 120*time.Second, cfg.BagLease)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().CacheCapacity, cfg.CacheCapacity)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cacheCapacity: 64\ndebug: 1\n"), 0600))
	t.Setenv("NEBULA_CACHE_CAPACITY", "512")
	t.Setenv("NEBULA_DEBUG", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.CacheCapacity)
	assert.Equal(t, 2, cfg.Debug)
}

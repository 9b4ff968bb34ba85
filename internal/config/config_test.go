package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwicklabs/evcore/internal/logging"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 1, cfg.MinThreads)
	assert.Equal(t, 8, cfg.MaxThreads)
	assert.Equal(t, int64(3*1e9), cfg.IdleDecay().Nanoseconds())
	assert.Equal(t, logging.LevelInfo, cfg.Level())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MinThreads, cfg.MinThreads)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_threads: 2\nmax_threads: 16\nidle_decay_seconds: 5\nlog_level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MinThreads)
	assert.Equal(t, 16, cfg.MaxThreads)
	assert.Equal(t, 5.0, cfg.IdleDecaySeconds)
	assert.Equal(t, logging.LevelDebug, cfg.Level())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_threads: 2\nmax_threads: 16\n"), 0o644))

	t.Setenv("MAX_THREADS", "32")
	t.Setenv("MAX_CLEANUP_DELAY", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MinThreads)
	assert.Equal(t, 32, cfg.MaxThreads)
	assert.Equal(t, 2e9, float64(cfg.MaxCleanupDelay.Nanoseconds()))
}

func TestMaxCleanupDelayAcceptsBareSeconds(t *testing.T) {
	t.Setenv("MAX_CLEANUP_DELAY", "1.5")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1.5, cfg.MaxCleanupDelay.Seconds())
}

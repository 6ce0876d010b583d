package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocalCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")

	cfg, err := LoadLocal(path)
	require.NoError(t, err)
	assert.Equal(t, 8877, cfg.ControlPort)
	assert.Equal(t, "info", cfg.LogLevel)

	_, err = os.Stat(path)
	assert.NoError(t, err, "a default config file should have been written")
}

func TestLoadLocalAppliesDefaultsForZeroFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host_url: http://catalog.example.com\n"), 0644))

	cfg, err := LoadLocal(path)
	require.NoError(t, err)
	assert.Equal(t, "http://catalog.example.com", cfg.HostURL)
	assert.Equal(t, 8877, cfg.ControlPort)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, 1, cfg.MinWorkers)
	assert.GreaterOrEqual(t, cfg.MaxWorkers, cfg.MinWorkers)
}

func TestLoadLocalRoundTripsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	cfg := DefaultLocal()
	cfg.HostURL = "http://host:9000"
	cfg.LogLevel = "debug"
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 6
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadLocal(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.HostURL, loaded.HostURL)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, 2, loaded.MinWorkers)
	assert.Equal(t, 6, loaded.MaxWorkers)
}

func TestLocalSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.yaml")
	cfg := DefaultLocal()
	require.NoError(t, cfg.Save(path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "agent.yaml", e.Name(), "no leftover temp file should remain after an atomic save")
	}
}

func TestMaxWorkersNeverBelowMinWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_workers: 10\nmax_workers: 2\n"), 0644))

	cfg, err := LoadLocal(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cfg.MaxWorkers, cfg.MinWorkers)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handika51/dispatchcore/config"
	"github.com/handika51/dispatchcore/shm"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, shm.MaxWorkers, cfg.Workers)
	assert.Equal(t, "", cfg.ExecPath)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\nexec_path: /usr/bin/dispatchhostd\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "/usr/bin/dispatchhostd", cfg.ExecPath)
	// watchdog_log_size was left unspecified, so the default survives.
	assert.Equal(t, config.DefaultConfig().WatchdogLogSize, cfg.WatchdogLogSize)
}

func TestLoadRejectsOutOfRangeWorkers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 99\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNamesConfigToShmNamesFallsBackToDefaults(t *testing.T) {
	nc := config.NamesConfig{Region: "/custom_region"}
	names := nc.ToShmNames()

	assert.Equal(t, "/custom_region", names.Region)
	assert.Equal(t, shm.SemReqName, names.SemReq)
	assert.Equal(t, shm.SemRespName, names.SemResp)
}

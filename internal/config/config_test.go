package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 600*time.Millisecond, cfg.Client.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Server.FlushInterval)
	assert.Equal(t, 15*time.Second, cfg.Client.VersionPoll)
}

func TestLoadConfig_OverridesAndDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  listen: 0.0.0.0:9000
  backup_every: 10
client:
  user: ab1234
  project: alpha
  debounce: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, int64(10), cfg.Server.BackupEvery)
	assert.Equal(t, 50, cfg.Server.BackupKeep, "unset keys keep defaults")
	assert.Equal(t, "ab1234", cfg.Client.User)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.Debounce)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	for name, yml := range map[string]string{
		"syntax":  "server: [",
		"project": "client:\n  project: \"has space\"\n",
		"flush":   "server:\n  flush_interval: 1ms\n",
		"backups": "server:\n  backup_keep: 0\n",
		"poll":    "client:\n  version_poll: -1s\n",
	} {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
		_, err := LoadConfig(path)
		assert.Error(t, err, name)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Client.User = "zz9999"
	cfg.Client.AckTimeout = 3 * time.Second

	require.NoError(t, SaveConfig(path, cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.Error(t, SaveConfig(path, nil))
}

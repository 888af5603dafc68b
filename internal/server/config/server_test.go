package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func minimalServerYAML(t *testing.T, dir string) string {
	t.Helper()
	keyPath := writeTempFile(t, dir, "server.key", "not-a-real-key")
	return `
privkey_filename: ` + keyPath + `
queue_dir: ` + dir + `
`
}

func TestLoadMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTempFile(t, dir, "server.yml", minimalServerYAML(t, dir))

	cfg, err := Load(configPath, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, PushModeSerial, cfg.PushMode)
	assert.Equal(t, 1, cfg.RenewEvery)
	assert.Equal(t, "day", cfg.RenewUnit)
	assert.Equal(t, 1, cfg.PushRetries)
	assert.Equal(t, 30, cfg.PushRetryInterval)
	assert.Empty(t, cfg.Clients)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	contents := minimalServerYAML(t, dir) + "\nbogus_key: true\n"
	configPath := writeTempFile(t, dir, "server.yml", contents)

	_, err := Load(configPath, Overrides{})
	require.Error(t, err)
}

func TestLoadRejectsMissingPrivkey(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTempFile(t, dir, "server.yml", "privkey_filename: "+filepath.Join(dir, "nope")+"\nqueue_dir: "+dir+"\n")

	_, err := Load(configPath, Overrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfigError")
}

func TestLoadRejectsBadPushMode(t *testing.T) {
	dir := t.TempDir()
	contents := minimalServerYAML(t, dir) + "\npush_mode: sideways\n"
	configPath := writeTempFile(t, dir, "server.yml", contents)

	_, err := Load(configPath, Overrides{})
	require.Error(t, err)
}

func TestNormalizeRenewUnit(t *testing.T) {
	unit, err := normalizeRenewUnit("Day", 1)
	require.NoError(t, err)
	assert.Equal(t, "day", unit)

	unit, err = normalizeRenewUnit("day", 3)
	require.NoError(t, err)
	assert.Equal(t, "days", unit)

	_, err = normalizeRenewUnit("monday", 2)
	require.Error(t, err)

	_, err = normalizeRenewUnit("fortnight", 1)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTempFile(t, dir, "server.yml", minimalServerYAML(t, dir))

	cfg, err := Load(configPath, Overrides{LogLevel: "DEBUG"})
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel.String())
}

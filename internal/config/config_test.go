package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("HOME", dir)
}

func TestParse_Defaults(t *testing.T) {
	isolate(t)
	stateDir := t.TempDir()

	cfg, err := Parse([]string{"-state-dir", stateDir})
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "http", cfg.Mode)
	assert.Equal(t, stateDir, cfg.StateDir)
	assert.Equal(t, 5*time.Minute, cfg.CommandTimeout)
	assert.Equal(t, time.Local, cfg.Location())
}

func TestParse_EnvThenFlags(t *testing.T) {
	isolate(t)
	t.Setenv("TASKCRON_ADDR", "127.0.0.1:9000")
	t.Setenv("TASKCRON_LOG_LEVEL", "debug")
	t.Setenv("TASKCRON_USE_UTC", "true")
	t.Setenv("TASKCRON_COMMAND_TIMEOUT", "30s")
	t.Setenv("TASKCRON_BARK_ENABLED", "1")

	cfg, err := Parse([]string{"-addr", "127.0.0.1:9100", "-state-dir", t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.UseUTC)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	assert.True(t, cfg.Notification.Bark.Enabled)
}

func TestParse_DotEnvFile(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("TASKCRON_MODE=both\nTASKCRON_AUTH_TOKEN=secret\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("TASKCRON_MODE")
		os.Unsetenv("TASKCRON_AUTH_TOKEN")
	})

	cfg, err := Parse([]string{"-state-dir", t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "both", cfg.Mode)
	assert.Equal(t, "secret", cfg.Server.AuthToken)
}

func TestParse_InvalidMode(t *testing.T) {
	isolate(t)
	_, err := Parse([]string{"-mode", "grpc", "-state-dir", t.TempDir()})
	assert.Error(t, err)
}

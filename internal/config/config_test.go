package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Dispatch.Workers)
	require.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	require.Equal(t, 5*time.Minute, cfg.Dispatch.RetryBase)
	require.Equal(t, 14*24*time.Hour, cfg.Verify.VerificationWindow)
	require.Equal(t, "memory", cfg.Storage.Provider)
	require.Equal(t, "0 0 * * *", cfg.Scheduler.QuotaReset)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
dispatch:
  workers: 2
channels:
  indexnow_key: abc123
storage:
  provider: local
  local_dir: /tmp/artifacts
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 2, cfg.Dispatch.Workers)
	require.Equal(t, "abc123", cfg.Channels.IndexNowKey)
	require.Equal(t, "local", cfg.Storage.Provider)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Server.Port = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Auth.Enabled = true
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Storage.Provider = "s3"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Storage.Provider = "gcs"
	require.Error(t, bad.Validate())
}

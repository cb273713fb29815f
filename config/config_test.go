package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen_addr: "0.0.0.0:7000"
backend_addr: "127.0.0.1:6379"
backend_password: "hunter2"
denylist: [FLUSHALL, CONFIG]
idle_timeout: "45s"
max_line_len: 32768
audit_queue_size: 512
audit_workers: 2
health_interval: "30s"
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "0.0.0.0:7000", cfg.ListenAddr)
	require.Equal(t, "127.0.0.1:6379", cfg.BackendAddr)
	require.Equal(t, "hunter2", cfg.BackendPassword)
	require.Equal(t, []string{"FLUSHALL", "CONFIG"}, cfg.Denylist)
	require.Equal(t, 45*time.Second, cfg.IdleTimeout.Value())
	require.Equal(t, 32768, cfg.MaxLineLen)
	require.Equal(t, 512, cfg.AuditQueueSize)
	require.Equal(t, 2, cfg.AuditWorkers)
	require.Equal(t, 30*time.Second, cfg.HealthInterval.Value())
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6380", cfg.ListenAddr)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "backend_adress: \"127.0.0.1:6379\"\n"))
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "idle_timeout: \"soon\"\n"))
	require.Error(t, err)
}

func TestCheckAndSetDefaults(t *testing.T) {
	cfg := &Config{BackendAddr: "127.0.0.1:6379"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "127.0.0.1:6380", cfg.ListenAddr)
	require.Equal(t, "info", cfg.LogLevel)

	require.Error(t, (&Config{}).CheckAndSetDefaults())
	require.Error(t, (&Config{BackendAddr: "x", LogLevel: "loud"}).CheckAndSetDefaults())
	require.Error(t, (&Config{BackendAddr: "x", MaxLineLen: -1}).CheckAndSetDefaults())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToml = `
[development]
environment = "development"
port = 9100
log_level = "debug"
remote_backend = "rest"
remote_timeout = "3s"
data_api_url = "http://localhost:54321"
cache_backend = "sqlite"
sqlite_cache_path = "/tmp/liftlog"
allow_future_dates = true

[production]
environment = "production"
host = "0.0.0.0"
port = 9000
log_level = "info"
postgres_host = "db"
postgres_port = "5432"
postgres_db_name = "liftlog"
auth_mode = "remote"
auth_url = "https://auth.example.com"
auth_cache_ttl = "30s"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(testToml), 0o600))
	return path
}

func TestLoad_Development(t *testing.T) {
	cfg, err := Load("dev", writeConfig(t))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "rest", cfg.RemoteBackend)
	assert.Equal(t, 3*time.Second, cfg.RemoteTimeout.Duration)
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	assert.True(t, cfg.AllowFutureDates)
	// defaults
	assert.Equal(t, "jwt", cfg.AuthMode)
	assert.Equal(t, time.Minute, cfg.AuthCacheTTL.Duration)
	assert.Equal(t, 5, cfg.ImportRateLimitPerMin)
}

func TestLoad_Production(t *testing.T) {
	cfg, err := Load("production", writeConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "postgres", cfg.RemoteBackend)
	assert.Equal(t, 10*time.Second, cfg.RemoteTimeout.Duration)
	assert.Equal(t, "remote", cfg.AuthMode)
	assert.Equal(t, 30*time.Second, cfg.AuthCacheTTL.Duration)
	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.False(t, cfg.AllowFutureDates)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("staging", writeConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown env")

	_, err = Load("dev", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	tomlCfg := &Toml{}
	_, err = tomlCfg.Get("prod")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

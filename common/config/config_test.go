package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/data")

	cfg, err := Load("datasync")
	require.NoError(t, err)

	assert.Equal(t, "datasync", cfg.Service.Name)
	assert.Equal(t, 8000, cfg.Service.Port)
	assert.Equal(t, filepath.Join("/data", "unzipped"), cfg.Storage.RawDir)
	assert.Equal(t, filepath.Join("/data", "zipped"), cfg.Storage.ZipDir)
	assert.Equal(t, filepath.Join("/data", "metadata"), cfg.Storage.MetaDir)
	assert.Equal(t, "csv", cfg.Storage.RawExt)
	assert.Equal(t, "zip", cfg.Storage.ZipExt)
	assert.Equal(t, 15*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, "postgres", cfg.Remote.Driver)
	assert.Equal(t, "id", cfg.Remote.RowKey)
	assert.Greater(t, cfg.Worker.PoolSize, 0)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("FETCH_BATCH_THRESHOLD", "10")
	t.Setenv("FETCH_BATCH_SIZE", "4")
	t.Setenv("HEARTBEAT_INTERVAL", "250ms")
	t.Setenv("REMOTE_DRIVER", "sqlite")
	t.Setenv("REMOTE_DSN", "file:remote.db")

	cfg, err := Load("datasync")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Service.Port)
	assert.Equal(t, int64(10), cfg.Fetch.BatchThreshold)
	assert.Equal(t, int64(4), cfg.Fetch.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.HeartbeatInterval)
	assert.Equal(t, "sqlite", cfg.Remote.Driver)
}

func TestValidate_Errors(t *testing.T) {
	t.Setenv("REMOTE_DRIVER", "sqlite")
	_, err := Load("datasync")
	assert.Error(t, err, "sqlite without DSN must fail")

	t.Setenv("REMOTE_DRIVER", "oracle")
	_, err = Load("datasync")
	assert.Error(t, err)

	t.Setenv("REMOTE_DRIVER", "postgres")
	t.Setenv("RAW_EXT", "zip")
	_, err = Load("datasync")
	assert.Error(t, err, "equal extensions must fail")
}

func TestValidate_RedisCacheNeedsRedis(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "redis")
	_, err := Load("datasync")
	assert.Error(t, err)

	t.Setenv("REDIS_ENABLED", "true")
	_, err = Load("datasync")
	assert.NoError(t, err)
}

func TestValidate_RateLimit(t *testing.T) {
	cfg, err := Load("datasync")
	require.NoError(t, err)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, int64(30), cfg.RateLimit.Sessions)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)

	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_SESSIONS", "0")
	_, err = Load("datasync")
	assert.Error(t, err)

	t.Setenv("RATE_LIMIT_SESSIONS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")
	cfg, err = Load("datasync")
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.RateLimit.Sessions)
}

func TestReadSecret_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	old := secretsDir
	secretsDir = dir
	t.Cleanup(func() { secretsDir = old })

	t.Setenv("POSTGRES_PASSWORD", "from-env")
	assert.Equal(t, "from-env", readSecret("postgres_password", "POSTGRES_PASSWORD"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "postgres_password"), []byte("from-file\n"), 0600))
	assert.Equal(t, "from-file", readSecret("postgres_password", "POSTGRES_PASSWORD"))
}

func TestDatabaseURL_EscapesCredentials(t *testing.T) {
	cfg := &Config{Remote: RemoteConfig{User: "u", Password: "p@ss", Host: "db", Port: 5432, Database: "d"}}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/d?sslmode=disable", cfg.DatabaseURL())
}

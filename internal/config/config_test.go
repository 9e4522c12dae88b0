package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hookrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Empty(t, cfg.Server.APIKey)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "./data/hookrelay.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 50, cfg.Delivery.Workers)
	assert.Equal(t, 15*time.Second, cfg.Delivery.SweepInterval)
	assert.Equal(t, 100, cfg.Delivery.SweepBatch)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	cfg, err := Load(writeConfig(t, `
server:
  port: 9090
  api_key: sk_test
storage:
  driver: postgres
  postgres:
    dsn: postgres://localhost/hookrelay
delivery:
  workers: 8
  sweep_interval: 5s
logging:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sk_test", cfg.Server.APIKey)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/hookrelay", cfg.Storage.Postgres.DSN)
	assert.Equal(t, 8, cfg.Delivery.Workers)
	assert.Equal(t, 5*time.Second, cfg.Delivery.SweepInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// untouched sections keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 100, cfg.Delivery.SweepBatch)
}

func TestLoadMissingFile(t *testing.T) {
	viper.Reset()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "castarr.db", cfg.Database.DSN)
	assert.Equal(t, 6*time.Second, cfg.Engine.SegmentDuration)
	assert.Equal(t, 8, cfg.Engine.MaxPipelines)
	assert.Equal(t, 3, cfg.Engine.RestartBudget)
	assert.Equal(t, 60*time.Second, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 720, cfg.Telemetry.WindowSize)
	assert.False(t, cfg.Scheduler.RescanEnabled)
	assert.Equal(t, "0 0 4 * * *", cfg.Scheduler.RescanCron)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
engine:
  max_pipelines: 2
  restart_budget: 5
scheduler:
  rescan_enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Engine.MaxPipelines)
	assert.Equal(t, 5, cfg.Engine.RestartBudget)
	assert.True(t, cfg.Scheduler.RescanEnabled)
	// Untouched values keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CASTARR_SERVER_PORT", "7070")
	t.Setenv("CASTARR_DATABASE_DRIVER", "postgres")
	t.Setenv("CASTARR_DATABASE_DSN", "host=localhost dbname=castarr")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"missing base dir", func(c *Config) { c.Storage.BaseDir = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"segment duration too short", func(c *Config) { c.Engine.SegmentDuration = 100 * time.Millisecond }},
		{"zero playlist size", func(c *Config) { c.Engine.PlaylistSize = 0 }},
		{"zero pipelines", func(c *Config) { c.Engine.MaxPipelines = 0 }},
		{"negative restart budget", func(c *Config) { c.Engine.RestartBudget = -1 }},
		{"tiny telemetry window", func(c *Config) { c.Telemetry.WindowSize = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

func TestServerAddress(t *testing.T) {
	cfg := ServerConfig{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
}

func TestStoragePaths(t *testing.T) {
	cfg := StorageConfig{BaseDir: "/var/lib/castarr", SegmentsDir: "segments", TempDir: "temp"}
	assert.Equal(t, "/var/lib/castarr/segments", cfg.SegmentsPath())
	assert.Equal(t, "/var/lib/castarr/temp", cfg.TempPath())
}

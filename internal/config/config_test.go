package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("store", "sqlite", "")
	fs.String("db", "./idem.db", "")
	fs.String("redis", "", "")
	fs.Duration("key-window", 30*time.Minute, "")
	fs.String("listen", ":8080", "")
	return fs
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "./idem.db", cfg.Store.Path)
	assert.Equal(t, "idem:", cfg.Store.Redis.Prefix)
	assert.Equal(t, 30*time.Minute, cfg.Key.Window)
	assert.Equal(t, 24*time.Hour, cfg.Retention)
	assert.Equal(t, time.Duration(0), cfg.Sweep.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Server.Listen)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "idem.yaml", `
store:
  driver: bolt
  path: /var/lib/idem/idem.bolt
key:
  window: 1h
retention: 72h
sweep:
  interval: 5m
log:
  level: debug
  format: json
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, DriverBolt, cfg.Store.Driver)
	assert.Equal(t, "/var/lib/idem/idem.bolt", cfg.Store.Path)
	assert.Equal(t, time.Hour, cfg.Key.Window)
	assert.Equal(t, 72*time.Hour, cfg.Retention)
	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "idem.yaml", "store:\n  driver: bolt\n  path: a.bolt\n")
	t.Setenv("IDEM_STORE_DRIVER", "memory")
	t.Setenv("IDEM_RETENTION", "2h")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Retention)
}

func TestLoad_ChangedFlagsOverrideEnv(t *testing.T) {
	t.Setenv("IDEM_STORE_DRIVER", "memory")
	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--store", "bolt", "--db", "x.bolt"}))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, DriverBolt, cfg.Store.Driver)
	assert.Equal(t, "x.bolt", cfg.Store.Path)
}

func TestLoad_UnchangedFlagsDoNotOverride(t *testing.T) {
	t.Setenv("IDEM_STORE_DRIVER", "memory")
	fs := testFlags()
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }, "store.driver must be one of"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "store.path is required"},
		{"redis without addr", func(c *Config) { c.Store.Driver = DriverRedis; c.Store.Redis.Addr = "" }, "store.redis.addr is required"},
		{"short window", func(c *Config) { c.Key.Window = 30 * time.Second }, "key.window must be at least 1m"},
		{"zero retention", func(c *Config) { c.Retention = 0 }, "retention must be positive"},
		{"retention shorter than window", func(c *Config) { c.Retention = 10 * time.Minute }, "shorter than key.window"},
		{"negative sweep", func(c *Config) { c.Sweep.Interval = -time.Second }, "sweep.interval must not be negative"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_MemoryNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverMemory
	cfg.Store.Path = ""
	assert.NoError(t, cfg.Validate())
}

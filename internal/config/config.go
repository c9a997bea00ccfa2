// Package config loads idem settings from defaults, an optional config file,
// IDEM_* environment variables and command-line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: store.driver becomes
// IDEM_STORE_DRIVER.
const EnvPrefix = "IDEM"

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config is the resolved configuration.
type Config struct {
	Store     StoreConfig   `mapstructure:"store"`
	Key       KeyConfig     `mapstructure:"key"`
	Retention time.Duration `mapstructure:"retention"`
	Sweep     SweepConfig   `mapstructure:"sweep"`
	Log       LogConfig     `mapstructure:"log"`
	Server    ServerConfig  `mapstructure:"server"`
}

type StoreConfig struct {
	Driver string      `mapstructure:"driver"`
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

type KeyConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// SweepConfig controls the background sweeper. Interval 0 disables it.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"store":      "store.driver",
	"db":         "store.path",
	"redis":      "store.redis.addr",
	"key-window": "key.window",
	"listen":     "server.listen",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "./idem.db")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.prefix", "idem:")
	v.SetDefault("key.window", 30*time.Minute)
	v.SetDefault("retention", 24*time.Hour)
	v.SetDefault("sweep.interval", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.listen", ":8080")
}

// Default returns the configuration with no file, env or flags applied.
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		panic(fmt.Sprintf("config: defaults do not load: %v", err))
	}
	return cfg
}

// Load resolves configuration. path may be empty. Only flags in FlagKeys
// that were explicitly set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, cfgKey := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(cfgKey, f); err != nil {
				return nil, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the resolved values.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverSQLite, DriverBolt:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %q", c.Store.Driver))
		}
	case DriverMemory:
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for driver \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of sqlite, bolt, memory, redis; got %q", c.Store.Driver))
	}
	if c.Key.Window < time.Minute {
		errs = append(errs, fmt.Errorf("key.window must be at least 1m, got %s", c.Key.Window))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Retention))
	} else if c.Retention < c.Key.Window {
		errs = append(errs, fmt.Errorf("retention %s is shorter than key.window %s", c.Retention, c.Key.Window))
	}
	if c.Sweep.Interval < 0 {
		errs = append(errs, fmt.Errorf("sweep.interval must not be negative, got %s", c.Sweep.Interval))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error; got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json; got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Package app wires configuration into a running engine: it opens the
// configured store backend, builds the logger and constructs the Engine.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/idem/internal/config"
	"github.com/roach88/idem/internal/engine"
	"github.com/roach88/idem/internal/key"
	"github.com/roach88/idem/internal/store"
	"github.com/roach88/idem/internal/store/bolt"
	"github.com/roach88/idem/internal/store/memory"
	"github.com/roach88/idem/internal/store/redis"
	"github.com/roach88/idem/internal/store/sqlite"
)

// boltLockTimeout bounds how long Open waits for another process holding the
// bolt file lock.
const boltLockTimeout = 5 * time.Second

// App bundles the long-lived components built from one Config.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  *store.ResultStore
	Engine *engine.Engine
}

// Option adjusts how Open builds the App.
type Option func(*options)

type options struct {
	clock  engine.Clock
	logger *slog.Logger
}

// WithClock overrides the wall clock for records, expiry and key buckets.
func WithClock(c engine.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger uses l instead of building one from cfg.Log.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open builds an App from cfg. Log output goes to logOut unless WithLogger
// is given. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config, logOut io.Writer, opts ...Option) (*App, error) {
	o := options{clock: engine.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = NewLogger(cfg.Log, logOut)
		if err != nil {
			return nil, err
		}
	}

	backend, err := OpenBackend(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	rs := store.New(backend, o.clock.Now)

	deriver := key.NewDeriver(
		key.WithNow(o.clock.Now),
		key.WithDefaultWindow(cfg.Key.Window),
	)
	eng := engine.New(rs,
		engine.WithClock(o.clock),
		engine.WithDeriver(deriver),
		engine.WithRetention(cfg.Retention),
		engine.WithLogger(logger),
	)

	logger.Debug("app opened",
		"driver", cfg.Store.Driver,
		"window", cfg.Key.Window.String(),
		"retention", cfg.Retention.String(),
	)
	return &App{Config: cfg, Logger: logger, Store: rs, Engine: eng}, nil
}

// Close releases the store backend.
func (a *App) Close() error {
	return a.Store.Close()
}

// OpenBackend opens the backend selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		b, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return b, nil
	case config.DriverBolt:
		b, err := bolt.Open(cfg.Path, boltLockTimeout)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return b, nil
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverRedis:
		b, err := redis.Open(ctx, cfg.Redis.Addr, cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// NewLogger builds a slog logger writing to w in cfg.Format at cfg.Level.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", cfg.Format)
}

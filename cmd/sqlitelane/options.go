// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/sqlitelane/lib/config"
	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
	"github.com/bureau-foundation/sqlitelane/lib/sqlitepool"
	"github.com/bureau-foundation/sqlitelane/lib/sqlitequeue"
)

// databaseOptions are the flags every database-touching subcommand
// shares. Flags that were set override the config file.
type databaseOptions struct {
	configPath     string
	path           string
	mode           string
	maxConnections int
	logLevel       string

	flagSet *pflag.FlagSet
}

func (o *databaseOptions) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "config file (YAML, or JSON with comments); default $"+config.EnvVar)
	flagSet.StringVarP(&o.path, "database", "d", "", "database file, overriding database.path")
	flagSet.StringVar(&o.mode, "mode", "", "coordinator: queue or pool, overriding database.mode")
	flagSet.IntVar(&o.maxConnections, "max-connections", 0, "pool connection cap (0 = unbounded), overriding database.max_connections")
	flagSet.StringVar(&o.logLevel, "log-level", "", "debug, info, warn, or error, overriding logging.level")
	o.flagSet = flagSet
}

// load reads the config file (--config, then $SQLITELANE_CONFIG, then
// built-in defaults), applies flag overrides, and validates.
func (o *databaseOptions) load(getenv func(string) string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case o.configPath != "":
		cfg, err = config.LoadFile(o.configPath)
	case getenv(config.EnvVar) != "":
		cfg, err = config.LoadFile(getenv(config.EnvVar))
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if o.path != "" {
		cfg.Database.Path = o.path
	}
	if o.mode != "" {
		cfg.Database.Mode = o.mode
	}
	if o.flagSet != nil && o.flagSet.Changed("max-connections") {
		cfg.Database.MaxConnections = o.maxConnections
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the command logger. In "auto" format it writes text
// when w is a terminal and JSON otherwise.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	format := cfg.Logging.Format
	if format == "auto" {
		format = "json"
		if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler), nil
}

// database is an open queue or pool behind the common Runner surface.
type database struct {
	sqlconn.Runner

	mode string
	pool *sqlitepool.Pool
	close func() error
}

// Close closes the underlying queue or pool.
func (d *database) Close() error {
	return d.close()
}

// openDatabase opens the coordinator the config selects. onConnect may
// be nil.
func openDatabase(cfg *config.Config, logger *slog.Logger, onConnect func(conn sqlconn.Conn) error) (*database, error) {
	flags, err := sqlconn.ParseFlags(cfg.Database.Flags)
	if err != nil {
		return nil, err
	}
	if flags&sqlite.OpenReadOnly == 0 {
		if err := cfg.EnsureDatabaseDir(); err != nil {
			return nil, err
		}
	}

	switch cfg.Database.Mode {
	case config.ModePool:
		pool := sqlitepool.Open(sqlitepool.Config{
			Path:            cfg.Database.Path,
			Flags:           flags,
			VFS:             cfg.Database.VFS,
			OnConnect:       onConnect,
			MaxConnections:  cfg.Database.MaxConnections,
			Logger:          logger,
			ReentrancyGuard: cfg.Database.ReentrancyGuard,
		})
		return &database{Runner: pool, mode: config.ModePool, pool: pool, close: pool.Close}, nil
	default:
		threshold, err := cfg.SlowThreshold()
		if err != nil {
			return nil, err
		}
		queue, err := sqlitequeue.Open(sqlitequeue.Config{
			Path:            cfg.Database.Path,
			Flags:           flags,
			VFS:             cfg.Database.VFS,
			OnConnect:       onConnect,
			Logger:          logger,
			SlowThreshold:   threshold,
			ReentrancyGuard: cfg.Database.ReentrancyGuard,
		})
		if err != nil {
			return nil, err
		}
		return &database{Runner: queue, mode: config.ModeQueue, close: queue.Close}, nil
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sqlitelane/lib/snapshot"
)

func snapshotCommand(env *environment) *Command {
	var (
		options     databaseOptions
		output      string
		compression string
	)

	return &Command{
		Name:    "snapshot",
		Summary: "Write a compressed, consistent copy of the database",
		Description: `Copy the database with VACUUM INTO through the configured coordinator
and write the copy, compressed, to --output (or stdout with "-"). The
file digest of the uncompressed copy is logged so the restore can be
checked against it.`,
		Usage: "sqlitelane snapshot [flags] --output <file>",
		Examples: []Example{
			{
				Command: "sqlitelane snapshot -d app.db --output app.db.zst",
			},
			{
				Description: "Stream an LZ4 snapshot to another host",
				Command:     "sqlitelane snapshot -d app.db --compression lz4 --output - | ssh backup 'cat > app.db.lz4'",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
			options.addFlags(flagSet)
			flagSet.StringVarP(&output, "output", "o", "", `destination file, or "-" for stdout`)
			flagSet.StringVar(&compression, "compression", "zstd", "none, lz4, or zstd")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			chosen, err := snapshot.ParseCompression(compression)
			if err != nil {
				return err
			}

			cfg, err := options.load(env.getenv)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, env.stderr)
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			var destination io.Writer = env.stdout
			var file *os.File
			if output != "-" {
				file, err = os.Create(output)
				if err != nil {
					return err
				}
				destination = file
			}

			info, err := snapshot.Take(context.Background(), db, destination, chosen)
			if file != nil {
				if closeErr := file.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					os.Remove(output)
				}
			}
			if err != nil {
				return err
			}

			logger.Info("snapshot written",
				"database", cfg.Database.Path,
				"output", output,
				"compression", info.Compression.String(),
				"bytes", info.Bytes,
				"hash", info.Hash.String(),
			)
			return nil
		},
	}
}

func restoreCommand(env *environment) *Command {
	var (
		options databaseOptions
		input   string
		force   bool
	)

	return &Command{
		Name:    "restore",
		Summary: "Install a snapshot as the database file",
		Description: `Read a snapshot written by "sqlitelane snapshot" from --input (or stdin
with "-") and install it at the database path. The compression is
detected from the stream.

An existing database is left alone unless --force is given, in which
case it is removed first together with its -wal and -shm files. Nothing
may have the database open while it is replaced.`,
		Usage: "sqlitelane restore [flags] --input <file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("restore", pflag.ContinueOnError)
			options.addFlags(flagSet)
			flagSet.StringVarP(&input, "input", "i", "", `snapshot file, or "-" for stdin`)
			flagSet.BoolVar(&force, "force", false, "replace an existing database")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if input == "" {
				return fmt.Errorf("--input is required")
			}

			cfg, err := options.load(env.getenv)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, env.stderr)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDatabaseDir(); err != nil {
				return err
			}

			var source io.Reader = env.stdin
			if input != "-" {
				file, err := os.Open(input)
				if err != nil {
					return err
				}
				defer file.Close()
				source = file
			}

			path := cfg.Database.Path
			if force {
				for _, name := range []string{path, path + "-wal", path + "-shm"} {
					if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
						return err
					}
				}
			}

			info, err := snapshot.Restore(source, path)
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%w (use --force to replace it)", err)
			}
			if err != nil {
				return err
			}

			logger.Info("snapshot restored",
				"database", path,
				"compression", info.Compression.String(),
				"bytes", info.Bytes,
				"hash", info.Hash.String(),
			)
			return nil
		},
	}
}

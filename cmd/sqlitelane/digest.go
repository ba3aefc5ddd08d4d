// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sqlitelane/lib/config"
	"github.com/bureau-foundation/sqlitelane/lib/digest"
	"github.com/bureau-foundation/sqlitelane/lib/process"
)

// exitMismatch is the exit status when digests do not match.
const exitMismatch = 3

// digestReport is the digest subcommand's output.
type digestReport struct {
	Database string        `json:"database"`
	Digest   digest.Report `json:"digest"`

	// Against and Differences are set when comparing two databases.
	Against     string   `json:"against,omitempty"`
	Differences []string `json:"differences,omitempty"`

	// Match is set when comparing against --against or --expect.
	Match *bool `json:"match,omitempty"`
}

func (r digestReport) writeText(w io.Writer) {
	for _, table := range r.Digest.Tables {
		fmt.Fprintf(w, "%s  %8d  %s\n", table.Hash, table.Rows, table.Name)
	}
	fmt.Fprintf(w, "%s  %s\n", r.Digest.Hash, r.Database)
	if r.Against != "" {
		for _, name := range r.Differences {
			fmt.Fprintf(w, "differs: %s\n", name)
		}
	}
	if r.Match != nil && !*r.Match {
		fmt.Fprintln(w, "MISMATCH")
	}
}

func digestCommand(env *environment) *Command {
	var (
		options     databaseOptions
		against     string
		expect      string
		concurrency int
		format      string
	)

	return &Command{
		Name:    "digest",
		Summary: "Compute a content digest of every table",
		Description: `Compute BLAKE3 digests of each user table and of the database as a
whole. Digests depend only on table names and row contents, not on row
order, page layout, or vacuum state.

With --against, the second database is digested too and the tables
that differ are listed. With --expect, the database digest is compared
to a known value. Either comparison exits with status 3 on mismatch.`,
		Usage: "sqlitelane digest [flags]",
		Examples: []Example{
			{
				Description: "Verify a restored copy",
				Command:     "sqlitelane digest -d app.db --against restored.db",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("digest", pflag.ContinueOnError)
			options.addFlags(flagSet)
			flagSet.StringVar(&against, "against", "", "second database to compare with")
			flagSet.StringVar(&expect, "expect", "", "expected database digest (hex)")
			flagSet.IntVar(&concurrency, "concurrency", 4, "tables digested at once")
			flagSet.StringVar(&format, "format", formatText, "report format: text, json, or cbor")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if err := checkFormat(format); err != nil {
				return err
			}
			var expected digest.Hash
			if expect != "" {
				var err error
				if expected, err = digest.ParseHash(expect); err != nil {
					return fmt.Errorf("--expect: %w", err)
				}
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

			ctx := context.Background()
			report := digestReport{Database: cfg.Database.Path}
			if report.Digest, err = digest.Database(ctx, db, concurrency); err != nil {
				return err
			}

			match := true
			if expect != "" {
				match = report.Digest.Hash == expected
				report.Match = &match
			}
			if against != "" {
				other, err := digestFile(ctx, cfg, against, concurrency)
				if err != nil {
					return err
				}
				report.Against = against
				report.Differences = digest.Differences(report.Digest, other)
				match = match && other.Hash == report.Digest.Hash
				report.Match = &match
			}

			if err := writeReport(env.stdout, format, report, report.writeText); err != nil {
				return err
			}
			if !match {
				logger.Warn("digest mismatch", "database", cfg.Database.Path)
				return &process.ExitError{Code: exitMismatch}
			}
			return nil
		},
	}
}

// digestFile digests a second database through its own queue, opened
// with the same VFS and flags as the primary one.
func digestFile(ctx context.Context, cfg *config.Config, path string, concurrency int) (digest.Report, error) {
	if _, err := os.Stat(path); err != nil {
		return digest.Report{}, fmt.Errorf("--against: %w", err)
	}
	other := *cfg
	other.Database.Path = path
	other.Database.Mode = config.ModeQueue
	db, err := openDatabase(&other, nil, nil)
	if err != nil {
		return digest.Report{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer db.Close()
	return digest.Database(ctx, db, concurrency)
}

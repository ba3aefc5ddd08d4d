// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/sqlitelane/lib/clock"
	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

const benchSchema = `CREATE TABLE IF NOT EXISTS bench_items (
	id      INTEGER PRIMARY KEY,
	worker  INTEGER NOT NULL,
	seq     INTEGER NOT NULL,
	payload TEXT NOT NULL
);`

// benchReport is the result of one bench run.
type benchReport struct {
	Mode           string  `json:"mode"`
	Transaction    string  `json:"transaction"`
	Workers        int     `json:"workers"`
	Operations     int     `json:"operations"`
	HoldMillis     int64   `json:"hold_ms,omitempty"`
	Failures       int64   `json:"failures"`
	ElapsedMillis  int64   `json:"elapsed_ms"`
	PerSecond      float64 `json:"per_second"`
	Rows           int64   `json:"rows"`
	MaxConnections int     `json:"max_connections,omitempty"`
	OpenAtEnd      int     `json:"open_at_end,omitempty"`
}

func (r benchReport) writeText(w io.Writer) {
	fmt.Fprintf(w, "mode:         %s\n", r.Mode)
	fmt.Fprintf(w, "transaction:  %s\n", r.Transaction)
	fmt.Fprintf(w, "workers:      %d x %d operations\n", r.Workers, r.Operations)
	fmt.Fprintf(w, "elapsed:      %s\n", time.Duration(r.ElapsedMillis)*time.Millisecond)
	fmt.Fprintf(w, "throughput:   %.0f ops/s\n", r.PerSecond)
	fmt.Fprintf(w, "failures:     %d\n", r.Failures)
	fmt.Fprintf(w, "rows:         %d\n", r.Rows)
	if r.Mode == "pool" {
		fmt.Fprintf(w, "connections:  %d open (cap %d)\n", r.OpenAtEnd, r.MaxConnections)
	}
}

func benchCommand(env *environment) *Command {
	var (
		options     databaseOptions
		workers     int
		operations  int
		transaction string
		hold        time.Duration
		format      string
	)

	return &Command{
		Name:    "bench",
		Summary: "Measure insert throughput through the queue or pool",
		Description: `Run concurrent workers, each inserting rows into a bench_items table
through the configured coordinator, and report throughput.

Each insert runs in its own callback, wrapped as --transaction selects.
--hold keeps every callback on its connection for an extra interval after
the insert, standing in for application work done while holding it.
Comparing --mode queue against --mode pool shows what serializing on one
connection costs (or saves) for a given workload.`,
		Usage: "sqlitelane bench [flags]",
		Examples: []Example{
			{
				Description: "Compare the coordinators on a scratch database",
				Command:     "sqlitelane bench -d /tmp/bench.db --mode pool --max-connections 4 --workers 16",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("bench", pflag.ContinueOnError)
			options.addFlags(flagSet)
			flagSet.IntVar(&workers, "workers", 0, "concurrent workers (default bench.workers)")
			flagSet.IntVar(&operations, "operations", 0, "inserts per worker (default bench.operations)")
			flagSet.StringVar(&transaction, "transaction", "", "wrapper per insert: none, eager, deferred, or savepoint (default bench.transaction)")
			flagSet.DurationVar(&hold, "hold", 0, "time each callback holds its connection after inserting")
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
			if hold < 0 {
				return fmt.Errorf("--hold must not be negative")
			}

			cfg, err := options.load(env.getenv)
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Bench.Workers = workers
			}
			if operations > 0 {
				cfg.Bench.Operations = operations
			}
			if transaction != "" {
				cfg.Bench.Transaction = transaction
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger, err := newLogger(cfg, env.stderr)
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, logger, func(conn sqlconn.Conn) error {
				return conn.ExecScript(benchSchema)
			})
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := runBench(context.Background(), db, benchParams{
				workers:     cfg.Bench.Workers,
				operations:  cfg.Bench.Operations,
				transaction: cfg.Bench.Transaction,
				hold:        hold,
				clock:       env.clock,
				logger:      logger,
			})
			if err != nil {
				return err
			}
			report.Mode = db.mode
			if db.pool != nil {
				report.MaxConnections = db.pool.MaxConnections()
				report.OpenAtEnd = db.pool.CountOpen()
			}
			return writeReport(env.stdout, format, report, report.writeText)
		},
	}
}

type benchParams struct {
	workers     int
	operations  int
	transaction string
	hold        time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// runBench drives the insert workload and counts the resulting rows.
// Individual insert failures (busy timeouts under heavy pool write
// contention, mostly) are counted and logged, not fatal.
func runBench(ctx context.Context, runner sqlconn.Runner, params benchParams) (benchReport, error) {
	report := benchReport{
		Transaction: params.transaction,
		Workers:     params.workers,
		Operations:  params.operations,
		HoldMillis:  params.hold.Milliseconds(),
	}

	var before int64
	if err := runner.InDatabase(ctx, countBenchRows(&before)); err != nil {
		return report, fmt.Errorf("bench: %w", err)
	}

	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
	)
	start := params.clock.Now()
	for worker := range params.workers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for seq := range params.operations {
				err := runWrapped(ctx, runner, params.transaction, func(ctx context.Context, conn sqlconn.Conn) error {
					err := conn.Exec("INSERT INTO bench_items (worker, seq, payload) VALUES (?, ?, ?)",
						worker, seq, fmt.Sprintf("worker %d row %d", worker, seq))
					if err == nil && params.hold > 0 {
						params.clock.Sleep(params.hold)
					}
					return err
				})
				if err != nil {
					mu.Lock()
					report.Failures++
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	waitGroup.Wait()
	elapsed := clock.Since(params.clock, start)

	if firstErr != nil {
		params.logger.Warn("bench inserts failed",
			"failures", report.Failures,
			"first_error", firstErr,
		)
	}

	var after int64
	if err := runner.InDatabase(ctx, countBenchRows(&after)); err != nil {
		return report, fmt.Errorf("bench: %w", err)
	}

	report.Rows = after - before
	report.ElapsedMillis = elapsed.Milliseconds()
	if elapsed > 0 {
		report.PerSecond = float64(report.Rows) / elapsed.Seconds()
	}
	return report, nil
}

func countBenchRows(count *int64) sqlconn.Func {
	return func(ctx context.Context, conn sqlconn.Conn) error {
		return conn.Query("SELECT COUNT(*) FROM bench_items", nil, func(stmt *sqlite.Stmt) error {
			*count = stmt.ColumnInt64(0)
			return nil
		})
	}
}

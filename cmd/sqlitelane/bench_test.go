// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/sqlitelane/lib/clock"
	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
	"github.com/bureau-foundation/sqlitelane/lib/sqlitepool"
	"github.com/bureau-foundation/sqlitelane/lib/sqlitequeue"
	"github.com/bureau-foundation/sqlitelane/lib/testutil"
)

type benchResult struct {
	report benchReport
	err    error
}

func startBench(runner sqlconn.Runner, fake *clock.FakeClock, workers int) <-chan benchResult {
	done := make(chan benchResult, 1)
	go func() {
		report, err := runBench(context.Background(), runner, benchParams{
			workers:     workers,
			operations:  1,
			transaction: "none",
			hold:        time.Second,
			clock:       fake,
			logger:      slog.New(slog.DiscardHandler),
		})
		done <- benchResult{report, err}
	}()
	return done
}

func createBenchSchema(conn sqlconn.Conn) error {
	return conn.ExecScript(benchSchema)
}

func TestBenchHoldOverlapsOnPool(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	pool := sqlitepool.Open(sqlitepool.Config{
		Path:           testutil.TempDatabase(t, ""),
		MaxConnections: 3,
		OnConnect:      createBenchSchema,
	})
	defer pool.Close()

	done := startBench(pool, fake, 3)

	// Every worker holds its own connection at once.
	fake.WaitForSleepers(3)
	fake.Advance(time.Second)

	result := testutil.RequireReceive(t, done, 10*time.Second, "bench did not finish")
	if result.err != nil {
		t.Fatalf("runBench: %v", result.err)
	}
	if result.report.Rows != 3 {
		t.Errorf("Rows = %d, want 3", result.report.Rows)
	}
	if result.report.ElapsedMillis != 1000 {
		t.Errorf("elapsed = %dms, want 1000ms with all holds overlapping", result.report.ElapsedMillis)
	}
}

func TestBenchHoldSerializesOnQueue(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	queue, err := sqlitequeue.Open(sqlitequeue.Config{
		Path:      testutil.TempDatabase(t, ""),
		OnConnect: createBenchSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer queue.Close()

	done := startBench(queue, fake, 3)

	for range 3 {
		fake.WaitForSleepers(1)
		if pending := fake.Pending(); pending != 1 {
			t.Fatalf("%d callbacks holding the queue at once", pending)
		}
		fake.Advance(time.Second)
	}

	result := testutil.RequireReceive(t, done, 10*time.Second, "bench did not finish")
	if result.err != nil {
		t.Fatalf("runBench: %v", result.err)
	}
	if result.report.ElapsedMillis != 3000 {
		t.Errorf("elapsed = %dms, want 3000ms with holds in sequence", result.report.ElapsedMillis)
	}
}

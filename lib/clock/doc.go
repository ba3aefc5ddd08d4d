// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The queue and pool measure how long callers wait and how long
// callbacks run; the bench command times workloads and simulates work
// with Sleep. They take a [Clock] instead of calling the time package
// so tests can drive elapsed time deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	queue, _ := sqlitequeue.Open(sqlitequeue.Config{
//	    Path:          path,
//	    Clock:         fake,
//	    SlowThreshold: time.Second,
//	})
//	queue.InDatabase(ctx, func(ctx context.Context, conn sqlconn.Conn) error {
//	    fake.Advance(2 * time.Second) // the queue now logs a slow task
//	    return nil
//	})
//
// [FakeClock.WaitForSleepers] closes the race between a goroutine
// registering a sleep and the test advancing past it.
package clock

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool lends SQLite connections to concurrent callbacks.
//
// A [Pool] starts empty and opens connections on demand. Each call
// (InDatabase, InTransaction, InDeferredTransaction, InSavepoint) checks
// out a connection, runs its callback, and checks the connection back in
// even if the callback fails or panics. Callbacks on different
// connections run in parallel; SQLite's WAL mode lets readers proceed
// while one writer holds the write lock, and busy_timeout makes
// competing writers wait rather than fail.
//
// Every connection gets the standard pragmas from package sqlconn:
// journal_mode=WAL, synchronous=NORMAL, busy_timeout=5000,
// foreign_keys=OFF, an 8 MB page cache, 256 MB of memory-mapped I/O, and
// in-memory temporary storage. Config.OnConnect runs after them, once
// per connection, for schema creation and function registration.
//
// # Usage
//
//	pool := sqlitepool.Open(sqlitepool.Config{
//	    Path:           "/var/lib/app/app.db",
//	    MaxConnections: 8,
//	    Logger:         logger,
//	    OnConnect: func(conn sqlconn.Conn) error {
//	        return conn.ExecScript(schema)
//	    },
//	})
//	defer pool.Close()
//
//	err := pool.InDeferredTransaction(ctx, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
//	    return sqlconn.Commit, conn.Exec("UPDATE counters SET n = n + 1 WHERE name = ?", name)
//	})
//
// # Capacity
//
// With MaxConnections set, a checkout that finds every connection lent
// out waits. Checkins hand their connection straight to the
// longest-waiting checkout, and a slot freed by a failed open is held
// for it, so waiters are served in arrival order.
// A callback that calls back into its own pool while holding the last
// connection waits forever; Config.ReentrancyGuard turns that into an
// immediate [sqlconn.ErrReentrant].
//
// # Admission
//
// A [Delegate] sees every new connection before its first use and may
// refuse it, for example to cap memory or to reject connections whose
// OnConnect setup looks wrong. A refused checkout fails with
// [ErrAdmissionDeclined]; the pool does not retry.
//
// # Releasing
//
// ReleaseAll closes every connection, including ones currently lent out,
// without waiting for their callbacks. Call it only when no callback is
// running, or when the process is about to exit anyway.
package sqlitepool

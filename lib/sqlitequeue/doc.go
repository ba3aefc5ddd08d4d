// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitequeue serializes access to one SQLite connection.
//
// A [Queue] owns exactly one connection and one worker goroutine. Every
// call (InDatabase, InTransaction, InDeferredTransaction, InSavepoint)
// hands its callback to the worker and blocks until the callback has
// finished. Callers are served in the order they arrive and at most one
// callback runs at any instant, so many goroutines can share a database
// without locking or connection management of their own.
//
//	queue, err := sqlitequeue.Open(sqlitequeue.Config{
//	    Path:   "/var/lib/app/app.db",
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer queue.Close()
//
//	err = queue.InTransaction(ctx, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
//	    if err := conn.Exec("INSERT INTO items (value) VALUES (?)", 1); err != nil {
//	        return sqlconn.Rollback, err
//	    }
//	    return sqlconn.Commit, nil
//	})
//
// # Re-entrancy
//
// A callback must not call InDatabase, InTransaction, or
// InDeferredTransaction on its own queue: the inner call waits behind
// the outer one forever. The queue does not detect this unless
// [Config].ReentrancyGuard is set, in which case the inner call fails
// with [sqlconn.ErrReentrant] (the callback must pass along the context
// it was given).
//
// InSavepoint is the exception. Called with the callback's context it
// runs directly on the connection the callback already holds, with a
// fresh savepoint name, so savepoints nest freely. The context only
// counts while the callback is running; saved and used later, it waits
// for the lane like any other call.
//
// A callback that panics or calls runtime.Goexit is treated as having
// returned: the lane moves on and the panic or Goexit resumes on the
// caller's goroutine.
//
// # Commit failures
//
// InTransaction and InDeferredTransaction do not report a failed
// COMMIT; it is logged at error level and the transaction is rolled
// back. Use InSavepoint when the caller needs to know.
package sqlitequeue

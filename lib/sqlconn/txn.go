// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlconn

import (
	"context"
	"fmt"
	"log/slog"
)

// Outcome is how a transaction or savepoint callback wants its work to
// end.
type Outcome int

const (
	// Commit keeps the callback's writes.
	Commit Outcome = iota
	// Rollback discards them.
	Rollback
)

// String returns "commit" or "rollback".
func (outcome Outcome) String() string {
	switch outcome {
	case Commit:
		return "commit"
	case Rollback:
		return "rollback"
	default:
		return fmt.Sprintf("Outcome(%d)", int(outcome))
	}
}

// Func is a callback that borrows a connection.
type Func func(ctx context.Context, conn Conn) error

// TxFunc is a callback that borrows a connection inside a transaction
// or savepoint. Returning a non-nil error rolls back regardless of the
// Outcome.
type TxFunc func(ctx context.Context, conn Conn) (Outcome, error)

// Runner is the caller-facing surface shared by the serial queue and
// the connection pool.
type Runner interface {
	InDatabase(ctx context.Context, fn Func) error
	InTransaction(ctx context.Context, fn TxFunc) error
	InDeferredTransaction(ctx context.Context, fn TxFunc) error
	InSavepoint(ctx context.Context, fn TxFunc) error
}

// SavepointName formats the n-th savepoint name of a coordinator.
func SavepointName(n uint64) string {
	return fmt.Sprintf("sp%d", n)
}

// RunTransaction begins a transaction in mode, runs fn, and commits or
// rolls back according to fn's result.
//
// A BEGIN failure is returned and fn does not run. fn's error is
// returned after rollback. A COMMIT failure is logged to logger and NOT
// returned; if the connection is still inside the transaction
// afterwards it is rolled back so the next user starts clean. If fn
// panics the transaction is rolled back and the panic continues.
func RunTransaction(ctx context.Context, conn Conn, mode TxMode, fn TxFunc, logger *slog.Logger) error {
	if err := conn.Begin(mode); err != nil {
		return fmt.Errorf("sqlconn: begin %s transaction: %w", mode, err)
	}

	finished := false
	defer func() {
		if !finished {
			rollback(conn, logger)
		}
	}()

	outcome, err := fn(ctx, conn)
	finished = true
	if err != nil || outcome == Rollback {
		rollback(conn, logger)
		return err
	}

	if commitErr := conn.Commit(); commitErr != nil {
		logger.Error("transaction commit failed",
			"path", conn.Path(),
			"mode", mode.String(),
			"error", commitErr,
		)
		if conn.InTransaction() {
			rollback(conn, logger)
		}
	}
	return nil
}

// rollback clears any pending interrupt (an interrupted connection
// cannot run ROLLBACK either) and rolls back if a transaction is still
// open. SQLite rolls back on its own after some errors, in which case
// there is nothing left to do.
func rollback(conn Conn, logger *slog.Logger) {
	conn.ClearInterrupt()
	if !conn.InTransaction() {
		return
	}
	if err := conn.Rollback(); err != nil {
		logger.Error("transaction rollback failed",
			"path", conn.Path(),
			"error", err,
		)
	}
}

// RunSavepoint opens savepoint name, runs fn, and either releases the
// savepoint or rolls back to it and then releases it. It returns the
// first failure: opening the savepoint, fn's error, rolling back, or
// releasing. A Rollback outcome with no other failure returns nil.
//
// RunSavepoint may be nested on one connection as long as every level
// uses a distinct name.
func RunSavepoint(ctx context.Context, conn Conn, name string, fn TxFunc) (err error) {
	if err := conn.Savepoint(name); err != nil {
		return fmt.Errorf("sqlconn: savepoint %s: %w", name, err)
	}

	finished := false
	defer func() {
		if !finished {
			abandonSavepoint(conn, name)
		}
	}()

	outcome, err := fn(ctx, conn)
	finished = true

	if err != nil || outcome == Rollback {
		conn.ClearInterrupt()
		if rollbackErr := conn.RollbackToSavepoint(name); rollbackErr != nil && err == nil {
			err = fmt.Errorf("sqlconn: rollback to savepoint %s: %w", name, rollbackErr)
		}
	}

	if releaseErr := conn.ReleaseSavepoint(name); releaseErr != nil {
		// Releasing the outermost savepoint is a commit. If it fails the
		// savepoint is still open; undo it rather than leave the
		// connection inside a transaction.
		abandonSavepoint(conn, name)
		if err == nil {
			err = fmt.Errorf("sqlconn: release savepoint %s: %w", name, releaseErr)
		}
	}
	return err
}

func abandonSavepoint(conn Conn, name string) {
	conn.ClearInterrupt()
	_ = conn.RollbackToSavepoint(name)
	_ = conn.ReleaseSavepoint(name)
}

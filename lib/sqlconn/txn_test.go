// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlconn_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

func TestRunTransactionCommit(t *testing.T) {
	conn := openItemsConn(t)

	err := sqlconn.RunTransaction(context.Background(), conn, sqlconn.Immediate, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		return sqlconn.Commit, conn.Exec("INSERT INTO items (value) VALUES (1)")
	}, discardLogger())
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if count := countItems(t, conn); count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
	if conn.InTransaction() {
		t.Error("still in a transaction")
	}
}

func TestRunTransactionRollback(t *testing.T) {
	conn := openItemsConn(t)
	sentinel := errors.New("callback failed")

	tests := []struct {
		name    string
		outcome sqlconn.Outcome
		err     error
	}{
		{"rollback outcome", sqlconn.Rollback, nil},
		{"error with commit outcome", sqlconn.Commit, sentinel},
		{"error with rollback outcome", sqlconn.Rollback, sentinel},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := sqlconn.RunTransaction(context.Background(), conn, sqlconn.Deferred, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
				if err := conn.Exec("INSERT INTO items (value) VALUES (1)"); err != nil {
					t.Fatalf("INSERT: %v", err)
				}
				return test.outcome, test.err
			}, discardLogger())
			if !errors.Is(err, test.err) {
				t.Fatalf("RunTransaction error = %v, want %v", err, test.err)
			}
			if count := countItems(t, conn); count != 0 {
				t.Errorf("rows = %d, want 0", count)
			}
			if conn.InTransaction() {
				t.Error("still in a transaction")
			}
		})
	}
}

func TestRunTransactionBeginFailure(t *testing.T) {
	conn := openItemsConn(t)
	if err := conn.Begin(sqlconn.Deferred); err != nil {
		t.Fatalf("BEGIN: %v", err)
	}

	ran := false
	err := sqlconn.RunTransaction(context.Background(), conn, sqlconn.Exclusive, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		ran = true
		return sqlconn.Commit, nil
	}, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "begin EXCLUSIVE") {
		t.Fatalf("RunTransaction error = %v, want a BEGIN failure", err)
	}
	if ran {
		t.Error("callback ran although BEGIN failed")
	}
	if !conn.InTransaction() {
		t.Error("the caller's transaction was rolled back by a failed BEGIN")
	}
}

func TestRunTransactionCommitFailureLogged(t *testing.T) {
	conn := openItemsConn(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	err := sqlconn.RunTransaction(context.Background(), &failingCommit{Conn: conn}, sqlconn.Immediate, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		return sqlconn.Commit, conn.Exec("INSERT INTO items (value) VALUES (1)")
	}, logger)
	if err != nil {
		t.Fatalf("RunTransaction returned %v; commit failures are only logged", err)
	}
	if !strings.Contains(logs.String(), "transaction commit failed") {
		t.Errorf("commit failure not logged:\n%s", logs.String())
	}
	if conn.InTransaction() {
		t.Error("failed commit left the transaction open")
	}
	if count := countItems(t, conn); count != 0 {
		t.Errorf("rows = %d, want 0", count)
	}
}

func TestRunTransactionPanic(t *testing.T) {
	conn := openItemsConn(t)

	func() {
		defer func() {
			if recovered := recover(); recovered != "boom" {
				t.Errorf("recovered %v, want boom", recovered)
			}
		}()
		_ = sqlconn.RunTransaction(context.Background(), conn, sqlconn.Immediate, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
			if err := conn.Exec("INSERT INTO items (value) VALUES (1)"); err != nil {
				return sqlconn.Rollback, err
			}
			panic("boom")
		}, discardLogger())
	}()

	if conn.InTransaction() {
		t.Error("panic left the transaction open")
	}
	if count := countItems(t, conn); count != 0 {
		t.Errorf("rows = %d, want 0", count)
	}
}

func TestRunTransactionAfterInterrupt(t *testing.T) {
	conn := openItemsConn(t)

	err := sqlconn.RunTransaction(context.Background(), conn, sqlconn.Immediate, func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		if err := conn.Exec("INSERT INTO items (value) VALUES (1)"); err != nil {
			return sqlconn.Rollback, err
		}
		conn.Interrupt()
		return sqlconn.Commit, conn.Exec("INSERT INTO items (value) VALUES (2)")
	}, discardLogger())
	if err == nil {
		t.Fatal("expected the interrupted statement's error")
	}
	if conn.InTransaction() {
		t.Error("interrupted transaction left open")
	}
	if count := countItems(t, conn); count != 0 {
		t.Errorf("rows = %d, want 0", count)
	}
}

func TestRunSavepoint(t *testing.T) {
	conn := openItemsConn(t)
	ctx := context.Background()

	err := sqlconn.RunSavepoint(ctx, conn, "sp1", func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		if err := conn.Exec("INSERT INTO items (value) VALUES (1)"); err != nil {
			return sqlconn.Rollback, err
		}
		inner := sqlconn.RunSavepoint(ctx, conn, "sp2", func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
			if err := conn.Exec("INSERT INTO items (value) VALUES (2)"); err != nil {
				return sqlconn.Rollback, err
			}
			return sqlconn.Rollback, nil
		})
		return sqlconn.Commit, inner
	})
	if err != nil {
		t.Fatalf("RunSavepoint: %v", err)
	}
	if count := countItems(t, conn); count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
	if conn.InTransaction() {
		t.Error("still in a transaction")
	}
}

func TestRunSavepointReturnsFirstFailure(t *testing.T) {
	conn := openItemsConn(t)
	sentinel := errors.New("callback failed")

	err := sqlconn.RunSavepoint(context.Background(), conn, "sp1", func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		if err := conn.Exec("INSERT INTO items (value) VALUES (1)"); err != nil {
			return sqlconn.Rollback, err
		}
		return sqlconn.Commit, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("RunSavepoint error = %v, want %v", err, sentinel)
	}
	if count := countItems(t, conn); count != 0 {
		t.Errorf("rows = %d, want 0", count)
	}
}

func TestRunSavepointReleaseFailure(t *testing.T) {
	conn := openItemsConn(t)

	err := sqlconn.RunSavepoint(context.Background(), &failingRelease{Conn: conn}, "sp1", func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		return sqlconn.Commit, conn.Exec("INSERT INTO items (value) VALUES (1)")
	})
	if err == nil || !strings.Contains(err.Error(), "release savepoint") {
		t.Fatalf("RunSavepoint error = %v, want a release failure", err)
	}
}

func TestRunSavepointPanic(t *testing.T) {
	conn := openItemsConn(t)

	func() {
		defer func() { _ = recover() }()
		_ = sqlconn.RunSavepoint(context.Background(), conn, "sp1", func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
			if err := conn.Exec("INSERT INTO items (value) VALUES (1)"); err != nil {
				return sqlconn.Rollback, err
			}
			panic("boom")
		})
	}()

	if conn.InTransaction() {
		t.Error("panic left the savepoint open")
	}
	if count := countItems(t, conn); count != 0 {
		t.Errorf("rows = %d, want 0", count)
	}
}

func TestSavepointName(t *testing.T) {
	if got := sqlconn.SavepointName(7); got != "sp7" {
		t.Errorf("SavepointName(7) = %q, want %q", got, "sp7")
	}
}

func TestOutcomeString(t *testing.T) {
	if sqlconn.Commit.String() != "commit" || sqlconn.Rollback.String() != "rollback" {
		t.Errorf("Outcome strings = %q, %q", sqlconn.Commit, sqlconn.Rollback)
	}
	if got := sqlconn.Outcome(9).String(); got != "Outcome(9)" {
		t.Errorf("Outcome(9).String() = %q", got)
	}
}

// failingCommit simulates an engine-side COMMIT failure.
type failingCommit struct {
	sqlconn.Conn
}

func (*failingCommit) Commit() error { return errors.New("disk I/O error") }

// failingRelease fails every RELEASE before reaching the engine, so
// RunSavepoint has to abandon the savepoint itself. Only the first call
// fails; the abandon path's release goes through.
type failingRelease struct {
	sqlconn.Conn
	failed bool
}

func (c *failingRelease) ReleaseSavepoint(name string) error {
	if !c.failed {
		c.failed = true
		return errors.New("database is locked")
	}
	return c.Conn.ReleaseSavepoint(name)
}

func openItemsConn(t *testing.T) *sqlconn.SQLite {
	t.Helper()
	conn := openTestConn(t)
	if err := conn.Exec("CREATE TABLE items (value INTEGER)"); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	return conn
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// TempDatabase returns the path of a fresh database file inside
// t.TempDir(). If script is non-empty it runs against the database
// first (table creation, seed rows) through a short-lived connection
// that is closed before TempDatabase returns.
//
//	path := testutil.TempDatabase(t, `CREATE TABLE items (value INTEGER NOT NULL);`)
func TempDatabase(t testing.TB, script string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	if script == "" {
		return path
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer conn.Close()

	if err := sqlitex.ExecuteScript(conn, script, nil); err != nil {
		t.Fatalf("populating %s: %v", path, err)
	}
	return path
}

// CountRows returns SELECT COUNT(*) FROM table using a private
// connection, so the result reflects only committed data.
func CountRows(t testing.TB, path, table string) int {
	t.Helper()

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer conn.Close()

	count := -1
	err = sqlitex.ExecuteTransient(conn, `SELECT COUNT(*) FROM "`+table+`"`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("counting rows in %s: %v", table, err)
	}
	return count
}

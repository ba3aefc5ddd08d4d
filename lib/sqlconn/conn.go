// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlconn

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Conn is one open storage-engine connection. Implementations are not
// safe for concurrent use except for Interrupt.
type Conn interface {
	// Path returns the path the connection was opened with.
	Path() string

	// Raw exposes the underlying zombiezen connection for statement
	// caching, blob I/O, and anything else this interface omits.
	Raw() *sqlite.Conn

	// Exec runs a single statement, discarding any result rows.
	Exec(query string, args ...any) error

	// ExecScript runs a semicolon-separated script of statements with
	// no arguments.
	ExecScript(script string) error

	// Query runs a single statement and calls row once per result row.
	Query(query string, args []any, row func(stmt *sqlite.Stmt) error) error

	Begin(mode TxMode) error
	Commit() error
	Rollback() error

	Savepoint(name string) error
	ReleaseSavepoint(name string) error
	RollbackToSavepoint(name string) error

	// InTransaction reports whether the connection is inside an explicit
	// transaction (autocommit disabled).
	InTransaction() bool

	// Interrupt aborts the operation currently in flight and every
	// following operation until ClearInterrupt. Safe from any goroutine.
	Interrupt()

	// ClearInterrupt re-arms the connection after Interrupt. Only the
	// owning goroutine may call it.
	ClearInterrupt()

	Close() error
}

// Opener creates a Conn for path with the given open flags and VFS
// name. Queues and pools call it for every connection they create.
// Substituting it is how callers supply a different Conn type.
type Opener func(path string, flags sqlite.OpenFlags, vfs string) (Conn, error)

// DefaultOpener opens a [SQLite] connection.
var DefaultOpener Opener = func(path string, flags sqlite.OpenFlags, vfs string) (Conn, error) {
	conn, err := Open(path, flags, vfs)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// TxMode selects the locking behavior of BEGIN.
type TxMode int

const (
	// Deferred acquires locks on first read or write.
	Deferred TxMode = iota
	// Immediate acquires the write lock at BEGIN.
	Immediate
	// Exclusive acquires the write lock at BEGIN and, outside WAL mode,
	// also blocks readers.
	Exclusive
)

// String returns the SQL keyword for the mode.
func (mode TxMode) String() string {
	switch mode {
	case Deferred:
		return "DEFERRED"
	case Immediate:
		return "IMMEDIATE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return fmt.Sprintf("TxMode(%d)", int(mode))
	}
}

// SQLite is the default [Conn]: a zombiezen connection with the
// standard pragmas applied and interrupt plumbing that lets any
// goroutine abort the owner's in-flight statement.
type SQLite struct {
	conn  *sqlite.Conn
	path  string
	flags sqlite.OpenFlags
	vfs   string

	// interruptMu guards interrupt and closed. The interrupt channel is
	// installed on conn with SetInterrupt; closing it aborts the
	// running statement.
	interruptMu sync.Mutex
	interrupt   chan struct{}
	closed      bool
}

var _ Conn = (*SQLite)(nil)

// Open opens a connection to path. A zero flags value means
// [DefaultFlags]. A non-empty vfs is forwarded to SQLite through a
// file: URI, so the URI flag is added automatically. The path markers
// ":memory:" and "" (private temporary database) pass through
// unchanged.
func Open(path string, flags sqlite.OpenFlags, vfs string) (*SQLite, error) {
	if flags == 0 {
		flags = DefaultFlags
	}

	target := path
	if vfs != "" {
		target = vfsURI(path, vfs)
		flags |= sqlite.OpenURI
	}

	raw, err := sqlite.OpenConn(target, flags)
	if err != nil {
		return nil, fmt.Errorf("sqlconn: opening %q: %w", path, err)
	}

	conn := &SQLite{
		conn:      raw,
		path:      path,
		flags:     flags,
		vfs:       vfs,
		interrupt: make(chan struct{}),
	}
	raw.SetInterrupt(conn.interrupt)

	if err := applyPragmas(raw, flags&sqlite.OpenReadOnly != 0); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// vfsURI builds a file: URI selecting vfs. Paths that are already URIs
// get the parameter appended.
func vfsURI(path, vfs string) string {
	parameter := "vfs=" + url.QueryEscape(vfs)
	if strings.HasPrefix(path, "file:") {
		if strings.Contains(path, "?") {
			return path + "&" + parameter
		}
		return path + "?" + parameter
	}
	escaped := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
	return "file:" + escaped + "?" + parameter
}

// Path returns the path passed to Open.
func (c *SQLite) Path() string { return c.path }

// Flags returns the effective open flags.
func (c *SQLite) Flags() sqlite.OpenFlags { return c.flags }

// VFS returns the custom VFS name, or "" for the default.
func (c *SQLite) VFS() string { return c.vfs }

// Raw returns the underlying zombiezen connection.
func (c *SQLite) Raw() *sqlite.Conn { return c.conn }

// Exec runs query through the connection's prepared statement cache.
func (c *SQLite) Exec(query string, args ...any) error {
	return sqlitex.Execute(c.conn, query, &sqlitex.ExecOptions{Args: args})
}

// ExecScript runs a multi-statement script.
func (c *SQLite) ExecScript(script string) error {
	return sqlitex.ExecuteScript(c.conn, script, nil)
}

// Query runs query and calls row for each result row.
func (c *SQLite) Query(query string, args []any, row func(stmt *sqlite.Stmt) error) error {
	return sqlitex.Execute(c.conn, query, &sqlitex.ExecOptions{
		Args:       args,
		ResultFunc: row,
	})
}

// Begin starts a transaction in the given mode.
func (c *SQLite) Begin(mode TxMode) error {
	return sqlitex.Execute(c.conn, "BEGIN "+mode.String(), nil)
}

// Commit commits the current transaction.
func (c *SQLite) Commit() error {
	return sqlitex.Execute(c.conn, "COMMIT", nil)
}

// Rollback rolls back the current transaction.
func (c *SQLite) Rollback() error {
	return sqlitex.Execute(c.conn, "ROLLBACK", nil)
}

// Savepoint opens a named savepoint. Outside a transaction this also
// starts a deferred transaction that RELEASE commits.
//
// Savepoint statements bypass the statement cache: every name is
// distinct and would otherwise grow the cache without bound.
func (c *SQLite) Savepoint(name string) error {
	return sqlitex.ExecuteTransient(c.conn, "SAVEPOINT "+QuoteIdentifier(name), nil)
}

// ReleaseSavepoint releases the named savepoint.
func (c *SQLite) ReleaseSavepoint(name string) error {
	return sqlitex.ExecuteTransient(c.conn, "RELEASE SAVEPOINT "+QuoteIdentifier(name), nil)
}

// RollbackToSavepoint undoes everything since the named savepoint. The
// savepoint stays open and must still be released.
func (c *SQLite) RollbackToSavepoint(name string) error {
	return sqlitex.ExecuteTransient(c.conn, "ROLLBACK TO SAVEPOINT "+QuoteIdentifier(name), nil)
}

// InTransaction reports whether autocommit is disabled. A closed
// connection is never in a transaction.
func (c *SQLite) InTransaction() bool {
	c.interruptMu.Lock()
	closed := c.closed
	c.interruptMu.Unlock()
	if closed {
		return false
	}
	return !c.conn.AutocommitEnabled()
}

// Interrupt aborts the in-flight statement. Later statements fail with
// SQLITE_INTERRUPT until ClearInterrupt.
func (c *SQLite) Interrupt() {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	if c.closed {
		return
	}
	select {
	case <-c.interrupt:
	default:
		close(c.interrupt)
	}
}

// ClearInterrupt installs a fresh interrupt channel if the current one
// has fired.
func (c *SQLite) ClearInterrupt() {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	if c.closed {
		return
	}
	select {
	case <-c.interrupt:
		c.interrupt = make(chan struct{})
		c.conn.SetInterrupt(c.interrupt)
	default:
	}
}

// Close closes the connection. Closing twice is a no-op.
func (c *SQLite) Close() error {
	c.interruptMu.Lock()
	if c.closed {
		c.interruptMu.Unlock()
		return nil
	}
	c.closed = true
	c.interruptMu.Unlock()

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("sqlconn: closing %q: %w", c.path, err)
	}
	return nil
}

// QuoteIdentifier returns name as a double-quoted SQL identifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

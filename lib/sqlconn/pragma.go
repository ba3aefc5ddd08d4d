// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlconn

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// journalPragma switches the database to write-ahead logging: readers
// never block the single writer and the writer never blocks readers.
// Skipped for read-only connections, which cannot change the journal.
const journalPragma = "PRAGMA journal_mode=WAL"

// connectionPragmas apply to every connection regardless of mode.
//
//   - synchronous=NORMAL: survives process crashes, not power loss.
//   - busy_timeout=5000: wait up to 5s for the write lock instead of
//     failing with SQLITE_BUSY; pool connections contend for it.
//   - foreign_keys=OFF: callers manage referential integrity.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped reads.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
var connectionPragmas = []string{
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA cache_size=-8192",
	"PRAGMA mmap_size=268435456",
	"PRAGMA temp_store=MEMORY",
}

func applyPragmas(conn *sqlite.Conn, readOnly bool) error {
	pragmas := connectionPragmas
	if !readOnly {
		pragmas = append([]string{journalPragma}, connectionPragmas...)
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlconn: %s: %w", pragma, err)
		}
	}
	return nil
}

// Params describes how a queue or pool opens its connections.
type Params struct {
	// Path is the database file, ":memory:", or "" for a private
	// temporary database. Passed to the opener unchanged.
	Path string

	// Flags is the open-flags bitmask. Zero means [DefaultFlags].
	Flags sqlite.OpenFlags

	// VFS names a registered SQLite VFS. Empty selects the default.
	VFS string

	// Opener creates each connection. Nil means [DefaultOpener].
	Opener Opener

	// OnConnect runs once per new connection after it opens: schema
	// creation, function registration, extra pragmas. If it fails the
	// connection is closed and the open fails.
	OnConnect func(conn Conn) error
}

// Open creates one connection according to p.
func (p Params) Open() (Conn, error) {
	opener := p.Opener
	if opener == nil {
		opener = DefaultOpener
	}

	conn, err := opener(p.Path, p.Flags, p.VFS)
	if err != nil {
		return nil, err
	}

	if p.OnConnect != nil {
		if err := p.OnConnect(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlconn: OnConnect: %w", err)
		}
	}
	return conn, nil
}

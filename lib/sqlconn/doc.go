// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlconn is the connection layer shared by [sqlitequeue] and
// [sqlitepool]. It defines the [Conn] capability interface, the default
// implementation [SQLite] over zombiezen.com/go/sqlite, and the
// transaction and savepoint wrapping logic both coordinators reuse.
//
// A Conn is not safe for concurrent use. Exactly one goroutine owns it
// at a time: the queue's worker, or whoever holds a pool checkout. The
// one exception is [Conn.Interrupt], which any goroutine may call to
// abort the operation currently in flight.
//
// # Wrapping
//
// [RunTransaction] and [RunSavepoint] compose BEGIN/COMMIT/ROLLBACK and
// SAVEPOINT/RELEASE/ROLLBACK TO around a caller's function. The caller
// chooses the ending by returning an [Outcome]: [Commit] or [Rollback].
// A non-nil error from the function always rolls back.
//
// The two wrappers report failures differently. RunSavepoint returns
// the first failure it meets (savepoint, callback, rollback, release).
// RunTransaction returns BEGIN failures and callback errors, but a
// failed COMMIT is only logged: the caller learns nothing and must
// verify durability independently if it matters.
//
// # Re-entrancy
//
// Queue and pool callbacks receive a context marked with [WithHeld].
// [Held] tells a coordinator that the calling goroutine is already
// inside one of its callbacks, which is how the optional re-entrancy
// guard turns a certain deadlock into [ErrReentrant]. [Nested] is how
// the queue runs nested savepoints on the held connection. The mark
// lasts only until the callback returns: a context saved past that
// point, or handed to a goroutine that outlives the callback, no
// longer counts as holding anything.
//
// # Opening
//
// [Open] applies the standard pragmas (WAL, synchronous=NORMAL,
// busy_timeout, cache and mmap sizing, in-memory temp store) to every
// connection. [Params] bundles path, flags, VFS name, the [Opener]
// factory, and an OnConnect hook so the queue and the pool open
// connections the same way.
package sqlconn

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for sqlitelane
// packages.
//
// [TempDatabase] creates a database file in a per-test temporary
// directory and optionally runs a setup script against it before the
// test opens its own queue or pool. The file is removed with the
// directory when the test completes.
//
// [RequireReceive] and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that concurrency tests never hang forever when a goroutine that
// should have been released stays blocked. These are the only place in
// the test suite where real wall-clock timeouts are used.
//
// [RequireBlocked] is the inverse: it asserts that nothing arrives on a
// channel for a short window, which is how tests check that a queue
// caller or a pool checkout is still waiting.
//
// [UniqueName] generates monotonically increasing identifiers for test
// disambiguation (table names, row payloads).
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil

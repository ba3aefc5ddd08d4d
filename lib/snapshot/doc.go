// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot copies a live SQLite database to a compressed
// stream and installs such a stream as a new database file.
//
// [Take] runs VACUUM INTO through a queue or pool, so the copy is
// transactionally consistent and compacted, and streams the result
// through LZ4 or zstd framing. [Restore] recognizes the framing (or a
// bare database file) by its magic bytes; the stream carries no header
// of its own.
//
// Both report the [digest.HashFile] digest of the uncompressed file:
//
//	taken, err := snapshot.Take(ctx, queue, out, snapshot.CompressionZstd)
//	restored, err := snapshot.Restore(in, "/var/lib/app/restored.db")
//	// taken.Hash == restored.Hash
package snapshot

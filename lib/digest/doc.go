// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes content digests of SQLite databases.
//
// A database digest identifies the logical contents of every user
// table, independent of page layout, free-list state, or the order rows
// were inserted in. Two databases with the same rows in the same tables
// produce the same digest, so a restored snapshot or a replica can be
// checked against its source without comparing files byte for byte.
//
// All digests use BLAKE3 keyed hashing with a separate domain key per
// level (row, table, database, file), so a digest from one level cannot
// be mistaken for one from another.
//
// Digests read through a [sqlconn.Runner], which means either lane
// works:
//
//	report, err := digest.Database(ctx, pool, 4)
//	fmt.Println(report.Hash)
//
// With a pool, tables are digested on separate connections in
// parallel. With a queue, the same calls serialize on its one
// connection.
package digest

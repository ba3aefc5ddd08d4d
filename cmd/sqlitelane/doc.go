// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sqlitelane is the command-line front end to the sqlitequeue and
// sqlitepool packages.
//
// Subcommands:
//
//	exec      run SQL statements, optionally inside one transaction
//	bench     measure insert throughput through a queue or a pool
//	digest    compute and compare content digests of every table
//	snapshot  write a compressed VACUUM INTO copy of the database
//	restore   install a snapshot as the database file
//
// Configuration is a YAML file (or JSON with comments) named by
// --config or $SQLITELANE_CONFIG; see lib/config. Without either, the
// built-in defaults apply and --database picks the file.
//
// Exit status is 0 on success, 3 when a digest comparison finds a
// mismatch, and 1 for any other error.
package main

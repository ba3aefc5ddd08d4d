// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"sync"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

// Table is the digest of one table's contents.
type Table struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
	Hash Hash   `json:"hash"`
}

// Report is the digest of every user table in a database. Tables are
// sorted by name.
type Report struct {
	Tables []Table `json:"tables"`
	Hash   Hash    `json:"hash"`
}

// Column type tags in the row encoding.
const (
	tagNull byte = iota
	tagInteger
	tagFloat
	tagText
	tagBlob
)

const listTablesQuery = `
	SELECT name FROM sqlite_schema
	WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
	ORDER BY name`

// Tables lists the user tables in the database, sorted by name.
func Tables(ctx context.Context, runner sqlconn.Runner) ([]string, error) {
	var names []string
	err := runner.InDatabase(ctx, func(ctx context.Context, conn sqlconn.Conn) error {
		return conn.Query(listTablesQuery, nil, func(stmt *sqlite.Stmt) error {
			names = append(names, stmt.ColumnText(0))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("digest: listing tables: %w", err)
	}
	return names, nil
}

// TableDigest hashes every row of table in one callback. Rows are
// hashed individually and the row digests sorted before combining, so
// the result depends on the table's contents and column order but not
// on row order or rowid assignment.
func TableDigest(ctx context.Context, runner sqlconn.Runner, table string) (Table, error) {
	result := Table{Name: table}
	var rowHashes []Hash

	err := runner.InDatabase(ctx, func(ctx context.Context, conn sqlconn.Conn) error {
		hasher := newHasher(rowDomainKey)
		var encoded []byte
		return conn.Query("SELECT * FROM "+sqlconn.QuoteIdentifier(table), nil, func(stmt *sqlite.Stmt) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			encoded = encoded[:0]
			for column := range stmt.ColumnCount() {
				encoded = appendColumn(encoded, stmt, column)
			}
			hasher.Reset()
			hasher.Write(encoded)
			rowHashes = append(rowHashes, sum(hasher))
			return nil
		})
	})
	if err != nil {
		return Table{}, fmt.Errorf("digest: table %s: %w", table, err)
	}

	slices.SortFunc(rowHashes, func(a, b Hash) int { return bytes.Compare(a[:], b[:]) })

	hasher := newHasher(tableDomainKey)
	writeString(hasher, table)
	for _, rowHash := range rowHashes {
		hasher.Write(rowHash[:])
	}
	result.Rows = int64(len(rowHashes))
	result.Hash = sum(hasher)
	return result, nil
}

// Database digests every user table. Up to concurrency tables are
// digested at once, each in its own callback; through a pool they run
// on separate connections, through a queue they run one after another.
// concurrency below 1 means 1.
func Database(ctx context.Context, runner sqlconn.Runner, concurrency int) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("digest: %w", err)
	}
	names, err := Tables(ctx, runner)
	if err != nil {
		return Report{}, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	tables := make([]Table, len(names))
	errs := make([]error, len(names))
	semaphore := make(chan struct{}, concurrency)
	var waitGroup sync.WaitGroup
	for i, name := range names {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			tables[i], errs[i] = TableDigest(ctx, runner, name)
		}()
	}
	waitGroup.Wait()

	for _, err := range errs {
		if err != nil {
			return Report{}, err
		}
	}

	hasher := newHasher(databaseDomainKey)
	for _, table := range tables {
		writeString(hasher, table.Name)
		hasher.Write(table.Hash[:])
	}
	return Report{Tables: tables, Hash: sum(hasher)}, nil
}

// Differences returns the names of tables whose digests differ between
// left and right, including tables present on only one side, sorted.
func Differences(left, right Report) []string {
	leftHashes := make(map[string]Hash, len(left.Tables))
	for _, table := range left.Tables {
		leftHashes[table.Name] = table.Hash
	}

	var differing []string
	seen := make(map[string]bool, len(right.Tables))
	for _, table := range right.Tables {
		seen[table.Name] = true
		if hash, ok := leftHashes[table.Name]; !ok || hash != table.Hash {
			differing = append(differing, table.Name)
		}
	}
	for name := range leftHashes {
		if !seen[name] {
			differing = append(differing, name)
		}
	}
	slices.Sort(differing)
	return differing
}

// appendColumn appends a self-delimiting encoding of one column value:
// a type tag, then a fixed-width number or a length-prefixed byte
// string.
func appendColumn(buf []byte, stmt *sqlite.Stmt, column int) []byte {
	switch stmt.ColumnType(column) {
	case sqlite.TypeInteger:
		buf = append(buf, tagInteger)
		return binary.BigEndian.AppendUint64(buf, uint64(stmt.ColumnInt64(column)))
	case sqlite.TypeFloat:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(stmt.ColumnFloat(column)))
	case sqlite.TypeText:
		text := stmt.ColumnText(column)
		buf = append(buf, tagText)
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(text)))
		return append(buf, text...)
	case sqlite.TypeBlob:
		length := stmt.ColumnLen(column)
		buf = append(buf, tagBlob)
		buf = binary.BigEndian.AppendUint64(buf, uint64(length))
		start := len(buf)
		buf = append(buf, make([]byte, length)...)
		stmt.ColumnBytes(column, buf[start:])
		return buf
	default:
		return append(buf, tagNull)
	}
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeString(w byteWriter, s string) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(s)))
	w.Write(length[:])
	w.Write([]byte(s))
}

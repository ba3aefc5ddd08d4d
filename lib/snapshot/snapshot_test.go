// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/sqlitelane/lib/digest"
	"github.com/bureau-foundation/sqlitelane/lib/snapshot"
	"github.com/bureau-foundation/sqlitelane/lib/sqlitepool"
	"github.com/bureau-foundation/sqlitelane/lib/sqlitequeue"
	"github.com/bureau-foundation/sqlitelane/lib/testutil"
)

const seed = `
	CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT NOT NULL);
	WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 500)
	INSERT INTO items (id, label) SELECT i, printf('item %04d', i) FROM n;
`

func openQueue(t *testing.T, path string) *sqlitequeue.Queue {
	t.Helper()
	queue, err := sqlitequeue.Open(sqlitequeue.Config{Path: path})
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	t.Cleanup(func() { queue.Close() })
	return queue
}

func TestRoundTrip(t *testing.T) {
	for _, compression := range []snapshot.Compression{
		snapshot.CompressionNone,
		snapshot.CompressionLZ4,
		snapshot.CompressionZstd,
	} {
		t.Run(compression.String(), func(t *testing.T) {
			source := openQueue(t, testutil.TempDatabase(t, seed))

			var stream bytes.Buffer
			taken, err := snapshot.Take(context.Background(), source, &stream, compression)
			if err != nil {
				t.Fatalf("Take: %v", err)
			}
			if taken.Compression != compression || taken.Bytes == 0 {
				t.Errorf("Take info = %+v", taken)
			}
			if compression != snapshot.CompressionNone && int64(stream.Len()) >= taken.Bytes {
				t.Errorf("compressed stream is %d bytes, database is %d", stream.Len(), taken.Bytes)
			}

			target := filepath.Join(t.TempDir(), "restored.db")
			restored, err := snapshot.Restore(&stream, target)
			if err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if restored != taken {
				t.Errorf("restored %+v, taken %+v", restored, taken)
			}

			want, err := digest.Database(context.Background(), source, 1)
			if err != nil {
				t.Fatalf("digest of source: %v", err)
			}
			got, err := digest.Database(context.Background(), openQueue(t, target), 1)
			if err != nil {
				t.Fatalf("digest of restore: %v", err)
			}
			if got.Hash != want.Hash {
				t.Errorf("restored contents differ from source")
			}
			if got.Tables[0].Rows != 500 {
				t.Errorf("restored %d rows, want 500", got.Tables[0].Rows)
			}
		})
	}
}

func TestTakeThroughPool(t *testing.T) {
	pool := sqlitepool.Open(sqlitepool.Config{Path: testutil.TempDatabase(t, seed), MaxConnections: 2})
	defer pool.Close()

	var stream bytes.Buffer
	if _, err := snapshot.Take(context.Background(), pool, &stream, snapshot.CompressionZstd); err != nil {
		t.Fatalf("Take: %v", err)
	}
	if pool.CountCheckedOut() != 0 {
		t.Errorf("CountCheckedOut = %d after Take, want 0", pool.CountCheckedOut())
	}
}

func TestTakeFailureWritesNothing(t *testing.T) {
	for _, compression := range []snapshot.Compression{
		snapshot.CompressionNone,
		snapshot.CompressionLZ4,
		snapshot.CompressionZstd,
	} {
		t.Run(compression.String(), func(t *testing.T) {
			source := openQueue(t, testutil.TempDatabase(t, seed))
			if err := source.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			var stream bytes.Buffer
			_, err := snapshot.Take(context.Background(), source, &stream, compression)
			if !errors.Is(err, sqlitequeue.ErrClosed) {
				t.Fatalf("Take on closed queue = %v, want ErrClosed", err)
			}
			if stream.Len() != 0 {
				t.Errorf("failed Take wrote %d bytes", stream.Len())
			}
		})
	}
}

func TestTakeRejectsUnknownCompression(t *testing.T) {
	pool := sqlitepool.Open(sqlitepool.Config{Path: testutil.TempDatabase(t, seed)})
	defer pool.Close()

	var stream bytes.Buffer
	if _, err := snapshot.Take(context.Background(), pool, &stream, snapshot.Compression(9)); err == nil {
		t.Fatal("Take accepted an unknown compression")
	}
	if got := pool.CountOpen(); got != 0 {
		t.Errorf("CountOpen() = %d; Take copied the database before checking compression", got)
	}
	if stream.Len() != 0 {
		t.Errorf("rejected Take wrote %d bytes", stream.Len())
	}
}

func TestRestoreRefusesExistingFile(t *testing.T) {
	source := openQueue(t, testutil.TempDatabase(t, seed))
	var stream bytes.Buffer
	if _, err := snapshot.Take(context.Background(), source, &stream, snapshot.CompressionNone); err != nil {
		t.Fatalf("Take: %v", err)
	}

	existing := testutil.TempDatabase(t, `CREATE TABLE other (v INTEGER);`)
	_, err := snapshot.Restore(&stream, existing)
	if !errors.Is(err, os.ErrExist) {
		t.Fatalf("Restore over an existing file: err = %v, want os.ErrExist", err)
	}
	if count := testutil.CountRows(t, existing, "other"); count != 0 {
		t.Errorf("existing database was modified")
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "restored.db")

	_, err := snapshot.Restore(strings.NewReader("definitely not a database"), target)
	if err == nil {
		t.Fatal("expected Restore to reject an unrecognized stream")
	}
	assertNoFiles(t, dir)
}

func TestRestoreRejectsTruncatedStream(t *testing.T) {
	source := openQueue(t, testutil.TempDatabase(t, seed))
	var stream bytes.Buffer
	if _, err := snapshot.Take(context.Background(), source, &stream, snapshot.CompressionZstd); err != nil {
		t.Fatalf("Take: %v", err)
	}

	dir := t.TempDir()
	truncated := bytes.NewReader(stream.Bytes()[:stream.Len()/2])
	if _, err := snapshot.Restore(truncated, filepath.Join(dir, "restored.db")); err == nil {
		t.Fatal("expected Restore to fail on a truncated zstd stream")
	}
	assertNoFiles(t, dir)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		compression, err := snapshot.ParseCompression(name)
		if err != nil {
			t.Fatalf("ParseCompression(%q): %v", name, err)
		}
		if compression.String() != name {
			t.Errorf("round trip of %q gave %q", name, compression)
		}
	}
	if _, err := snapshot.ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression should reject gzip")
	}
}

func assertNoFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		t.Errorf("unexpected file left behind: %s", entry.Name())
	}
}

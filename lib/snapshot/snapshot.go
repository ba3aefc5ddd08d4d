// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/sqlitelane/lib/digest"
	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

// Info describes a snapshot that was taken or restored.
type Info struct {
	Compression Compression `json:"compression"`

	// Bytes is the size of the uncompressed database file.
	Bytes int64 `json:"bytes"`

	// Hash is the file digest of the uncompressed database, so a
	// restore can be checked against the snapshot it came from.
	Hash digest.Hash `json:"hash"`
}

// countingWriter counts bytes on their way to an underlying writer.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

// Take writes a consistent copy of the database behind runner to w.
//
// The copy is made with VACUUM INTO a temporary file inside one runner
// callback, so on a queue it is ordered with every other operation and
// on a pool it holds one connection for the duration. The temporary
// file is then streamed through the chosen compression and removed.
// Nothing is written to w unless the copy succeeds. w is not closed.
func Take(ctx context.Context, runner sqlconn.Runner, w io.Writer, compression Compression) (Info, error) {
	if !compression.valid() {
		return Info{}, fmt.Errorf("snapshot: unsupported compression %s", compression)
	}

	directory, err := os.MkdirTemp("", "sqlitelane-snapshot-")
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: creating temporary directory: %w", err)
	}
	defer os.RemoveAll(directory)
	copyPath := filepath.Join(directory, "snapshot.db")

	err = runner.InDatabase(ctx, func(ctx context.Context, conn sqlconn.Conn) error {
		return conn.Exec("VACUUM INTO ?", copyPath)
	})
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: VACUUM INTO: %w", err)
	}

	hash, err := digest.HashFile(copyPath)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: %w", err)
	}

	file, err := os.Open(copyPath)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: %w", err)
	}
	defer file.Close()

	stream, err := compressor(w, compression)
	if err != nil {
		return Info{}, err
	}
	written, err := io.Copy(stream, file)
	if err != nil {
		stream.Close()
		return Info{}, fmt.Errorf("snapshot: writing stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return Info{}, fmt.Errorf("snapshot: finishing %s stream: %w", compression, err)
	}

	return Info{Compression: compression, Bytes: written, Hash: hash}, nil
}

// Restore reads a snapshot stream written by [Take] and installs it as
// a new database file at path. The compression is detected from the
// stream's leading bytes. Restore refuses to replace an existing file:
// the caller removes the old database (and its -wal and -shm files)
// first, with every connection to it closed.
//
// The file is written beside path under a temporary name and renamed
// into place only after the contents check out as a SQLite database,
// so a truncated or corrupt stream never leaves a partial file at path.
func Restore(r io.Reader, path string) (Info, error) {
	if _, err := os.Lstat(path); err == nil {
		return Info{}, fmt.Errorf("snapshot: restoring to %s: %w", path, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Info{}, fmt.Errorf("snapshot: %w", err)
	}

	buffered := bufio.NewReader(r)
	header, err := buffered.Peek(len(sqliteMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return Info{}, fmt.Errorf("snapshot: reading stream header: %w", err)
	}
	compression, err := detect(header)
	if err != nil {
		return Info{}, err
	}

	source, release, err := decompressor(buffered, compression)
	if err != nil {
		return Info{}, err
	}
	defer release()

	temporary, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".restore-*")
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: %w", err)
	}
	temporaryPath := temporary.Name()
	installed := false
	defer func() {
		if !installed {
			os.Remove(temporaryPath)
		}
	}()

	written, err := io.Copy(temporary, source)
	if err == nil {
		err = temporary.Sync()
	}
	if closeErr := temporary.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: writing %s: %w", temporaryPath, err)
	}

	if err := checkDatabaseHeader(temporaryPath); err != nil {
		return Info{}, err
	}

	hash, err := digest.HashFile(temporaryPath)
	if err != nil {
		return Info{}, fmt.Errorf("snapshot: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		return Info{}, fmt.Errorf("snapshot: installing %s: %w", path, err)
	}
	installed = true

	return Info{Compression: compression, Bytes: written, Hash: hash}, nil
}

func checkDatabaseHeader(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	defer file.Close()

	header := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(file, header); err != nil || !bytes.Equal(header, sqliteMagic) {
		return fmt.Errorf("snapshot: restored stream is not a SQLite database")
	}
	return nil
}

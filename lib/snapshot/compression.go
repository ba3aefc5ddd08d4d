// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a snapshot stream is compressed.
type Compression uint8

const (
	// CompressionNone writes the database file as is.
	CompressionNone Compression = 0

	// CompressionLZ4 writes an LZ4 frame. Fastest to produce and read
	// back, with a modest ratio on typical page data.
	CompressionLZ4 Compression = 1

	// CompressionZstd writes a zstd frame at the default level. Mostly
	// empty pages and text-heavy rows shrink several times over.
	CompressionZstd Compression = 2
)

// Leading bytes of each stream format.
var (
	zstdMagic   = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic    = []byte{0x04, 0x22, 0x4D, 0x18}
	sqliteMagic = []byte("SQLite format 3\x00")
)

// String returns the name accepted by [ParseCompression].
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

func (c Compression) valid() bool {
	return c <= CompressionZstd
}

// MarshalText encodes the compression by name.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// detect identifies the format of a stream from its first bytes.
func detect(header []byte) (Compression, error) {
	switch {
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionZstd, nil
	case bytes.HasPrefix(header, lz4Magic):
		return CompressionLZ4, nil
	case bytes.HasPrefix(header, sqliteMagic):
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("snapshot: unrecognized stream header %x", header)
	}
}

// nopWriteCloser passes writes through and ignores Close, so
// uncompressed output has the same shape as the compressors.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w so that bytes written to the result come out of w
// compressed. Closing the result flushes the final frame but does not
// close w.
func compressor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd encoder: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("snapshot: unsupported compression %s", compression)
	}
}

// decompressor returns a reader producing the decompressed contents of
// r and a function that releases the decoder.
func decompressor(r io.Reader, compression Compression) (io.Reader, func(), error) {
	switch compression {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot: zstd decoder: %w", err)
		}
		return decoder, decoder.Close, nil
	default:
		return nil, nil, fmt.Errorf("snapshot: unsupported compression %s", compression)
	}
}

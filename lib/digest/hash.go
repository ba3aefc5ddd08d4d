// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Each kind of
// digest gets its own key so a row digest can never collide with a
// table digest over the same bytes.
type domainKey [32]byte

// Domain separation keys: the ASCII domain name, zero-padded to 32
// bytes. Changing them invalidates every stored digest in that domain.
var (
	rowDomainKey = domainKey{
		's', 'q', 'l', 'i', 't', 'e', 'l', 'a', 'n', 'e', '.', 'd', 'i', 'g', 'e', 's',
		't', '.', 'r', 'o', 'w', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	tableDomainKey = domainKey{
		's', 'q', 'l', 'i', 't', 'e', 'l', 'a', 'n', 'e', '.', 'd', 'i', 'g', 'e', 's',
		't', '.', 't', 'a', 'b', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	databaseDomainKey = domainKey{
		's', 'q', 'l', 'i', 't', 'e', 'l', 'a', 'n', 'e', '.', 'd', 'i', 'g', 'e', 's',
		't', '.', 'd', 'a', 't', 'a', 'b', 'a', 's', 'e', 0, 0, 0, 0, 0, 0,
	}

	fileDomainKey = domainKey{
		's', 'q', 'l', 'i', 't', 'e', 'l', 'a', 'n', 'e', '.', 'd', 'i', 'g', 'e', 's',
		't', '.', 'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// String returns the hex encoding.
func (h Hash) String() string {
	return FormatHash(h)
}

// MarshalText encodes the hash as hex, so reports carry it as a string
// in both JSON and CBOR.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(FormatHash(h)), nil
}

// UnmarshalText parses a hex-encoded hash.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// FormatHash returns the hex-encoded string representation of a hash.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("digest is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// HashFile computes the file-domain digest of the file at path,
// streaming it through the hasher so memory stays constant. Snapshots
// are verified with it.
func HashFile(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := newHasher(fileDomainKey)
	if _, err := io.Copy(hasher, file); err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum(hasher), nil
}

func newHasher(key domainKey) *blake3.Hasher {
	// NewKeyed only fails for a key that is not 32 bytes, which
	// domainKey rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sum(hasher *blake3.Hasher) Hash {
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlconn

import (
	"fmt"
	"sort"
	"strings"

	"zombiezen.com/go/sqlite"
)

// DefaultFlags is used when a zero flags value is passed to [Open]:
// read-write, create if missing, URI filenames allowed.
const DefaultFlags = sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenURI

var flagNames = map[string]sqlite.OpenFlags{
	"read_only":     sqlite.OpenReadOnly,
	"read_write":    sqlite.OpenReadWrite,
	"create":        sqlite.OpenCreate,
	"uri":           sqlite.OpenURI,
	"memory":        sqlite.OpenMemory,
	"no_mutex":      sqlite.OpenNoMutex,
	"full_mutex":    sqlite.OpenFullMutex,
	"shared_cache":  sqlite.OpenSharedCache,
	"private_cache": sqlite.OpenPrivateCache,
	"wal":           sqlite.OpenWAL,
}

// ParseFlags combines named open flags into a bitmask. Names are
// case-insensitive; dashes and underscores are interchangeable. An
// empty list yields zero, which [Open] treats as [DefaultFlags].
func ParseFlags(names []string) (sqlite.OpenFlags, error) {
	var flags sqlite.OpenFlags
	for _, name := range names {
		normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
		if normalized == "" {
			continue
		}
		flag, ok := flagNames[normalized]
		if !ok {
			return 0, fmt.Errorf("sqlconn: unknown open flag %q (known: %s)", name, strings.Join(FlagNames(), ", "))
		}
		flags |= flag
	}
	if flags&sqlite.OpenReadOnly != 0 && flags&sqlite.OpenReadWrite != 0 {
		return 0, fmt.Errorf("sqlconn: read_only and read_write are mutually exclusive")
	}
	return flags, nil
}

// FlagNames returns the names ParseFlags accepts, sorted.
func FlagNames() []string {
	names := make([]string, 0, len(flagNames))
	for name := range flagNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

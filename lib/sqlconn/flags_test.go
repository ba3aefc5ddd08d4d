// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlconn_test

import (
	"strings"
	"testing"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		names []string
		want  sqlite.OpenFlags
	}{
		{nil, 0},
		{[]string{"read_only"}, sqlite.OpenReadOnly},
		{[]string{"read-write", "CREATE"}, sqlite.OpenReadWrite | sqlite.OpenCreate},
		{[]string{" uri ", "", "wal"}, sqlite.OpenURI | sqlite.OpenWAL},
		{[]string{"no_mutex", "private_cache"}, sqlite.OpenNoMutex | sqlite.OpenPrivateCache},
	}
	for _, test := range tests {
		got, err := sqlconn.ParseFlags(test.names)
		if err != nil {
			t.Errorf("ParseFlags(%q): %v", test.names, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseFlags(%q) = %v, want %v", test.names, got, test.want)
		}
	}
}

func TestParseFlagsRejects(t *testing.T) {
	if _, err := sqlconn.ParseFlags([]string{"bogus"}); err == nil || !strings.Contains(err.Error(), "read_write") {
		t.Errorf("unknown flag error = %v, want a list of known flags", err)
	}
	if _, err := sqlconn.ParseFlags([]string{"read_only", "read_write"}); err == nil {
		t.Error("read_only with read_write accepted")
	}
}

func TestFlagNamesSorted(t *testing.T) {
	names := sqlconn.FlagNames()
	if len(names) != 10 {
		t.Fatalf("FlagNames() has %d entries, want 10", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("FlagNames() not sorted: %v", names)
		}
	}
}

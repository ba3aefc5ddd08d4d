// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueName returns "prefix_N" where N increases monotonically across
// the test binary. The result is a valid unquoted SQL identifier when
// prefix is one.
//
//	table := testutil.UniqueName("items") // "items_1", "items_2", ...
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, uniqueCounter.Add(1))
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	var stderr bytes.Buffer
	if code := report(&stderr, errors.New("database is locked")); code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
	if stderr.String() != "error: database is locked\n" {
		t.Errorf("stderr = %q", stderr.String())
	}

	stderr.Reset()
	wrapped := fmt.Errorf("digest: %w", &ExitError{Code: 3})
	if code := report(&stderr, wrapped); code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
	if stderr.Len() != 0 {
		t.Errorf("ExitError printed %q", stderr.String())
	}
}

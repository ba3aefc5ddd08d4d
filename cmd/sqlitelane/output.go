// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bureau-foundation/sqlitelane/lib/codec"
)

// Report output formats.
const (
	formatText = "text"
	formatJSON = "json"
	formatCBOR = "cbor"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatCBOR:
		return nil
	default:
		return fmt.Errorf("--format must be text, json, or cbor (got %q)", format)
	}
}

// writeReport encodes report in the machine formats, or calls text for
// the human one.
func writeReport(w io.Writer, format string, report any, text func(w io.Writer)) error {
	switch format {
	case formatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case formatCBOR:
		return codec.NewEncoder(w).Encode(report)
	default:
		text(w)
		return nil
	}
}

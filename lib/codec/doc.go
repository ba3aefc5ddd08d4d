// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration.
//
// Reports from the bench and digest commands are written as text, JSON,
// or CBOR. CBOR output goes through this package so every report
// encodes identically: Core Deterministic Encoding (RFC 8949 §4.2),
// meaning the same report always produces the same bytes and can itself
// be hashed or diffed.
//
//	data, err := codec.Marshal(report)
//	err = codec.Unmarshal(data, &report)
//
// For a sequence of reports on one stream:
//
//	encoder := codec.NewEncoder(os.Stdout)
//
// Report types carry `json` struct tags only. fxamacker/cbor reads
// `json` tags when `cbor` tags are absent, so one tag set names the
// fields in both formats.
package codec

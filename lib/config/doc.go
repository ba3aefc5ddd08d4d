// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for sqlitelane.
//
// Configuration is loaded from a single file specified by either the
// SQLITELANE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file search.
// YAML is the primary format; files ending in .json or .jsonc are
// accepted with comments and trailing commas.
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches. Production
// defaults are stricter: JSON logs and the re-entrancy guard enabled.
//
// Variable expansion is performed on database.path after loading:
// ${HOME} and ${VAR:-default} patterns are expanded.
//
// This package depends on no other sqlitelane packages.
package config

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/sqlitelane/lib/clock"
	"github.com/bureau-foundation/sqlitelane/lib/process"
	"github.com/bureau-foundation/sqlitelane/lib/version"
)

func main() {
	if err := run(os.Args[1:], newEnvironment()); err != nil {
		process.Fatal(err)
	}
}

// environment is what the commands read from and write to. Tests
// substitute buffers and a fixed environment lookup.
type environment struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
	clock  clock.Clock
}

func newEnvironment() *environment {
	return &environment{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		getenv: os.Getenv,
		clock:  clock.Real(),
	}
}

func run(args []string, env *environment) error {
	if len(args) > 0 && args[0] == "--version" {
		fmt.Fprintf(env.stdout, "sqlitelane %s\n", version.Full())
		return nil
	}
	return root(env).Execute(args, env.stderr)
}

func root(env *environment) *Command {
	return &Command{
		Name:    "sqlitelane",
		Summary: "Serialized and pooled SQLite access",
		Description: `sqlitelane runs work against a SQLite database through a serial queue
(one connection, callbacks in arrival order) or a connection pool.

The database, coordinator, and logging come from the config file named
by --config or $SQLITELANE_CONFIG; flags override it.`,
		Subcommands: []*Command{
			execCommand(env),
			benchCommand(env),
			digestCommand(env),
			snapshotCommand(env),
			restoreCommand(env),
		},
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/sqlitelane/lib/clock"
	"github.com/bureau-foundation/sqlitelane/lib/codec"
	"github.com/bureau-foundation/sqlitelane/lib/config"
	"github.com/bureau-foundation/sqlitelane/lib/process"
	"github.com/bureau-foundation/sqlitelane/lib/testutil"
)

// testEnvironment captures output and isolates the commands from the
// real process environment.
type testEnvironment struct {
	*environment
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newTestEnvironment(vars map[string]string) *testEnvironment {
	env := &testEnvironment{}
	env.environment = &environment{
		stdin:  strings.NewReader(""),
		stdout: &env.stdout,
		stderr: &env.stderr,
		getenv: func(name string) string { return vars[name] },
		clock:  clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	return env
}

func runCommand(t *testing.T, env *testEnvironment, args ...string) error {
	t.Helper()
	env.stdout.Reset()
	env.stderr.Reset()
	return run(args, env.environment)
}

func mustRun(t *testing.T, env *testEnvironment, args ...string) string {
	t.Helper()
	if err := runCommand(t, env, args...); err != nil {
		t.Fatalf("sqlitelane %s: %v\nstderr: %s", strings.Join(args, " "), err, env.stderr.String())
	}
	return env.stdout.String()
}

func TestVersion(t *testing.T) {
	env := newTestEnvironment(nil)
	output := mustRun(t, env, "--version")
	if !strings.HasPrefix(output, "sqlitelane ") {
		t.Errorf("version output = %q", output)
	}
}

func TestHelp(t *testing.T) {
	env := newTestEnvironment(nil)
	mustRun(t, env, "--help")
	for _, name := range []string{"exec", "bench", "digest", "snapshot", "restore"} {
		if !strings.Contains(env.stderr.String(), name) {
			t.Errorf("root help does not list %s", name)
		}
	}

	mustRun(t, env, "bench", "--help")
	if !strings.Contains(env.stderr.String(), "--workers") {
		t.Errorf("bench help does not list --workers:\n%s", env.stderr.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnvironment(nil)
	err := runCommand(t, env, "vacuum")
	if err == nil || !strings.Contains(err.Error(), `unknown command "vacuum"`) {
		t.Errorf("err = %v", err)
	}
	if err := runCommand(t, env); err == nil {
		t.Error("expected an error with no subcommand")
	}
}

func TestExec(t *testing.T) {
	env := newTestEnvironment(nil)
	path := filepath.Join(t.TempDir(), "exec.db")

	mustRun(t, env, "exec", "-d", path, "--transaction", "eager",
		"CREATE TABLE t (id INTEGER PRIMARY KEY, label TEXT, weight REAL, payload BLOB)",
		"INSERT INTO t VALUES (1, 'one', 1.5, x'beef'), (2, NULL, NULL, NULL)",
	)

	output := mustRun(t, env, "exec", "-d", path, "SELECT * FROM t ORDER BY id")
	want := "1\tone\t1.5\tx'beef'\n2\tNULL\tNULL\tNULL\n"
	if output != want {
		t.Errorf("text output = %q, want %q", output, want)
	}

	output = mustRun(t, env, "exec", "-d", path, "--format", "json", "SELECT id, label FROM t WHERE id = 1")
	var row map[string]any
	if err := json.Unmarshal([]byte(output), &row); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if row["id"] != float64(1) || row["label"] != "one" {
		t.Errorf("json row = %v", row)
	}
}

func TestExecTransactionRollsBackOnError(t *testing.T) {
	env := newTestEnvironment(nil)
	path := testutil.TempDatabase(t, `CREATE TABLE t (v INTEGER NOT NULL);`)

	err := runCommand(t, env, "exec", "-d", path, "--transaction", "eager",
		"INSERT INTO t VALUES (1)",
		"INSERT INTO t VALUES (NULL)",
	)
	if err == nil {
		t.Fatal("expected the NOT NULL violation to fail the command")
	}
	if count := testutil.CountRows(t, path, "t"); count != 0 {
		t.Errorf("%d rows after rollback, want 0", count)
	}
}

func TestExecUnknownWrapper(t *testing.T) {
	env := newTestEnvironment(nil)
	path := filepath.Join(t.TempDir(), "exec.db")
	if err := runCommand(t, env, "exec", "-d", path, "--transaction", "nested", "SELECT 1"); err == nil {
		t.Error("expected an error for an unknown wrapper")
	}
}

func TestBench(t *testing.T) {
	for _, mode := range []string{"queue", "pool"} {
		for _, transaction := range []string{"none", "eager", "deferred", "savepoint"} {
			t.Run(mode+"/"+transaction, func(t *testing.T) {
				env := newTestEnvironment(nil)
				path := filepath.Join(t.TempDir(), "bench.db")

				output := mustRun(t, env, "bench", "-d", path, "--mode", mode, "--max-connections", "2",
					"--workers", "3", "--operations", "20", "--transaction", transaction, "--format", "json")

				var report benchReport
				if err := json.Unmarshal([]byte(output), &report); err != nil {
					t.Fatalf("decoding %q: %v", output, err)
				}
				if report.Mode != mode || report.Transaction != transaction {
					t.Errorf("report = %+v", report)
				}
				if report.Rows+report.Failures != 60 {
					t.Errorf("rows %d + failures %d, want 60", report.Rows, report.Failures)
				}
				if mode == "pool" && report.OpenAtEnd > 2 {
					t.Errorf("pool opened %d connections with a cap of 2", report.OpenAtEnd)
				}
			})
		}
	}
}

func TestBenchCBOR(t *testing.T) {
	env := newTestEnvironment(nil)
	path := filepath.Join(t.TempDir(), "bench.db")

	output := mustRun(t, env, "bench", "-d", path, "--workers", "2", "--operations", "5", "--format", "cbor")

	var report benchReport
	if err := codec.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding CBOR report: %v", err)
	}
	if report.Rows != 10 || report.Mode != "queue" {
		t.Errorf("report = %+v", report)
	}
}

func TestBenchRejectsBadFormat(t *testing.T) {
	env := newTestEnvironment(nil)
	if err := runCommand(t, env, "bench", "--format", "yaml"); err == nil {
		t.Error("expected an error for --format yaml")
	}
}

func TestDigestComparison(t *testing.T) {
	env := newTestEnvironment(nil)
	schema := `CREATE TABLE t (v INTEGER);`
	left := testutil.TempDatabase(t, schema+`INSERT INTO t VALUES (1), (2);`)
	same := testutil.TempDatabase(t, schema+`INSERT INTO t VALUES (2), (1);`)
	different := testutil.TempDatabase(t, schema+`INSERT INTO t VALUES (3);`)

	output := mustRun(t, env, "digest", "-d", left, "--against", same, "--format", "json")
	var report digestReport
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if report.Match == nil || !*report.Match || len(report.Differences) != 0 {
		t.Errorf("report = %+v", report)
	}

	err := runCommand(t, env, "digest", "-d", left, "--against", different)
	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitMismatch {
		t.Fatalf("err = %v, want exit status %d", err, exitMismatch)
	}
	if !strings.Contains(env.stdout.String(), "differs: t") {
		t.Errorf("output does not name the differing table:\n%s", env.stdout.String())
	}
}

func TestDigestExpect(t *testing.T) {
	env := newTestEnvironment(nil)
	path := testutil.TempDatabase(t, `CREATE TABLE t (v INTEGER); INSERT INTO t VALUES (1);`)

	output := mustRun(t, env, "digest", "-d", path, "--format", "json")
	var report digestReport
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}

	mustRun(t, env, "digest", "-d", path, "--expect", report.Digest.Hash.String())

	wrong := strings.Repeat("0", 64)
	err := runCommand(t, env, "digest", "-d", path, "--expect", wrong)
	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("err = %v, want an ExitError", err)
	}

	if err := runCommand(t, env, "digest", "-d", path, "--expect", "xyz"); err == nil {
		t.Error("expected an error for a malformed --expect")
	}
}

func TestDigestAgainstMissingFile(t *testing.T) {
	env := newTestEnvironment(nil)
	path := testutil.TempDatabase(t, `CREATE TABLE t (v INTEGER);`)
	missing := filepath.Join(t.TempDir(), "missing.db")

	if err := runCommand(t, env, "digest", "-d", path, "--against", missing); err == nil {
		t.Fatal("expected an error for a missing --against database")
	}
	if _, err := os.Stat(missing); !errors.Is(err, os.ErrNotExist) {
		t.Error("digest created the missing database")
	}
}

func TestSnapshotRestore(t *testing.T) {
	env := newTestEnvironment(nil)
	source := testutil.TempDatabase(t, `CREATE TABLE t (v INTEGER); INSERT INTO t VALUES (1), (2), (3);`)
	dir := t.TempDir()
	archive := filepath.Join(dir, "snapshot.lz4")
	target := filepath.Join(dir, "restored.db")

	mustRun(t, env, "snapshot", "-d", source, "--compression", "lz4", "--output", archive)
	mustRun(t, env, "restore", "-d", target, "--input", archive)
	mustRun(t, env, "digest", "-d", source, "--against", target)

	err := runCommand(t, env, "restore", "-d", target, "--input", archive)
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Errorf("restore over an existing database: err = %v, want a --force hint", err)
	}
	mustRun(t, env, "restore", "-d", target, "--input", archive, "--force")
}

func TestSnapshotToStdout(t *testing.T) {
	env := newTestEnvironment(nil)
	source := testutil.TempDatabase(t, `CREATE TABLE t (v INTEGER); INSERT INTO t VALUES (1);`)

	stream := mustRun(t, env, "snapshot", "-d", source, "--output", "-")
	env.stdin = strings.NewReader(stream)

	target := filepath.Join(t.TempDir(), "restored.db")
	mustRun(t, env, "restore", "-d", target, "--input", "-")
	if count := testutil.CountRows(t, source, "t"); count != 1 {
		t.Fatalf("source has %d rows", count)
	}
	mustRun(t, env, "digest", "-d", source, "--against", target)
}

func TestSnapshotRequiresOutput(t *testing.T) {
	env := newTestEnvironment(nil)
	if err := runCommand(t, env, "snapshot", "-d", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Error("expected an error without --output")
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	database := filepath.Join(dir, "configured.db")
	configPath := filepath.Join(dir, "sqlitelane.yaml")
	contents := "database:\n  path: " + database + "\n  mode: pool\nlogging:\n  level: warn\n  format: text\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	env := newTestEnvironment(map[string]string{config.EnvVar: configPath})
	mustRun(t, env, "exec", "CREATE TABLE t (v INTEGER)")
	if _, err := os.Stat(database); err != nil {
		t.Fatalf("configured database was not created: %v", err)
	}

	output := mustRun(t, env, "bench", "--workers", "1", "--operations", "3", "--format", "json")
	var report benchReport
	if err := json.Unmarshal([]byte(output), &report); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if report.Mode != "pool" {
		t.Errorf("mode = %q, want pool from the config file", report.Mode)
	}
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnvironment(nil)
	err := runCommand(t, env, "exec", "-d", filepath.Join(t.TempDir(), "x.db"), "--mode", "cluster", "SELECT 1")
	if err == nil || !strings.Contains(err.Error(), "database.mode") {
		t.Errorf("err = %v, want a database.mode validation error", err)
	}
}

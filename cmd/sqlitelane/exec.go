// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

func execCommand(env *environment) *Command {
	var (
		options     databaseOptions
		transaction string
		format      string
	)

	return &Command{
		Name:    "exec",
		Summary: "Run SQL statements against the database",
		Description: `Run each argument as one SQL statement, in order, through the configured
queue or pool. Result rows are printed tab-separated (text) or as one
JSON object per row (json).

With --transaction, all statements run inside one transaction that
commits only if every statement succeeds.`,
		Usage: "sqlitelane exec [flags] <statement>...",
		Examples: []Example{
			{
				Description: "Create a table and insert into it atomically",
				Command:     `sqlitelane exec -d app.db --transaction eager "CREATE TABLE t (v)" "INSERT INTO t VALUES (1)"`,
			},
			{
				Command: `sqlitelane exec -d app.db --format json "SELECT * FROM t"`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			options.addFlags(flagSet)
			flagSet.StringVar(&transaction, "transaction", "none", "wrap statements in a transaction: none, eager, deferred, or savepoint")
			flagSet.StringVar(&format, "format", formatText, "row output: text or json")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one statement is required")
			}
			if format != formatText && format != formatJSON {
				return fmt.Errorf("--format must be text or json (got %q)", format)
			}

			cfg, err := options.load(env.getenv)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, env.stderr)
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			statements := func(ctx context.Context, conn sqlconn.Conn) error {
				for _, statement := range args {
					if err := runStatement(conn, statement, format, env.stdout); err != nil {
						return err
					}
				}
				return nil
			}
			return runWrapped(context.Background(), db, transaction, statements)
		},
	}
}

// runWrapped runs fn through runner inside the named wrapper.
func runWrapped(ctx context.Context, runner sqlconn.Runner, wrapper string, fn sqlconn.Func) error {
	inTransaction := func(ctx context.Context, conn sqlconn.Conn) (sqlconn.Outcome, error) {
		return sqlconn.Commit, fn(ctx, conn)
	}
	switch wrapper {
	case "none":
		return runner.InDatabase(ctx, fn)
	case "eager":
		return runner.InTransaction(ctx, inTransaction)
	case "deferred":
		return runner.InDeferredTransaction(ctx, inTransaction)
	case "savepoint":
		return runner.InSavepoint(ctx, inTransaction)
	default:
		return fmt.Errorf("unknown transaction wrapper %q (want none, eager, deferred, or savepoint)", wrapper)
	}
}

func runStatement(conn sqlconn.Conn, statement, format string, w io.Writer) error {
	var encoder *json.Encoder
	if format == formatJSON {
		encoder = json.NewEncoder(w)
	}

	err := conn.Query(statement, nil, func(stmt *sqlite.Stmt) error {
		count := stmt.ColumnCount()
		if encoder != nil {
			row := make(map[string]any, count)
			for column := range count {
				row[stmt.ColumnName(column)] = columnValue(stmt, column)
			}
			return encoder.Encode(row)
		}
		fields := make([]string, count)
		for column := range count {
			fields[column] = columnText(stmt, column)
		}
		_, err := fmt.Fprintln(w, strings.Join(fields, "\t"))
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", statement, err)
	}
	return nil
}

func columnValue(stmt *sqlite.Stmt, column int) any {
	switch stmt.ColumnType(column) {
	case sqlite.TypeInteger:
		return stmt.ColumnInt64(column)
	case sqlite.TypeFloat:
		return stmt.ColumnFloat(column)
	case sqlite.TypeText:
		return stmt.ColumnText(column)
	case sqlite.TypeBlob:
		buf := make([]byte, stmt.ColumnLen(column))
		stmt.ColumnBytes(column, buf)
		return buf
	default:
		return nil
	}
}

func columnText(stmt *sqlite.Stmt, column int) string {
	switch value := columnValue(stmt, column).(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case []byte:
		return "x'" + hex.EncodeToString(value) + "'"
	default:
		return value.(string)
	}
}

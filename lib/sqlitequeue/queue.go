// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/sqlitelane/lib/clock"
	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("sqlitequeue: queue is closed")

// Config holds the parameters for opening a queue. Only Path is
// meaningful to most callers; zero values select defaults.
type Config struct {
	// Path is the database file, ":memory:", or "" for a private
	// temporary database.
	Path string

	// Flags is the open-flags bitmask. Zero means sqlconn.DefaultFlags.
	Flags sqlite.OpenFlags

	// VFS names a registered SQLite VFS. Empty selects the default.
	VFS string

	// Opener creates the connection. Nil means sqlconn.DefaultOpener.
	Opener sqlconn.Opener

	// OnConnect runs once after the connection opens. If it fails, Open
	// fails.
	OnConnect func(conn sqlconn.Conn) error

	// Logger receives open/close messages, commit and rollback
	// failures, and slow-task warnings. If nil, a no-op logger is used.
	Logger *slog.Logger

	// Clock times callbacks for SlowThreshold. Defaults to clock.Real().
	Clock clock.Clock

	// SlowThreshold, when positive, logs a warning for every callback
	// that holds the lane at least this long.
	SlowThreshold time.Duration

	// ReentrancyGuard makes InDatabase and the transaction methods fail
	// with sqlconn.ErrReentrant when called with a context derived from
	// one of this queue's callbacks while it is still running, instead
	// of deadlocking.
	ReentrancyGuard bool
}

// Queue runs callbacks against one connection, one at a time, in
// arrival order. Safe for concurrent use.
type Queue struct {
	conn   sqlconn.Conn
	path   string
	flags  sqlite.OpenFlags
	vfs    string
	logger *slog.Logger
	clock  clock.Clock

	slowThreshold   time.Duration
	reentrancyGuard bool

	savepoints atomic.Uint64

	// submitMu is read-locked while a caller hands a task to the worker
	// and write-locked by Close, so no task can enter the lane once
	// Close has begun.
	submitMu   sync.RWMutex
	closed     bool
	tasks      chan *task
	workerDone chan struct{}
}

// task is one callback waiting for, or occupying, the lane.
type task struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan struct{}

	panicked   bool
	panicValue any
	exited     bool // run called runtime.Goexit
}

// Open opens the queue's connection and starts its worker. An open
// failure (bad path, permissions, unknown VFS, OnConnect error) is
// returned and no queue is created.
func Open(cfg Config) (*Queue, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	conn, err := sqlconn.Params{
		Path:      cfg.Path,
		Flags:     cfg.Flags,
		VFS:       cfg.VFS,
		Opener:    cfg.Opener,
		OnConnect: cfg.OnConnect,
	}.Open()
	if err != nil {
		return nil, fmt.Errorf("sqlitequeue: %w", err)
	}

	queue := &Queue{
		conn:            conn,
		path:            cfg.Path,
		flags:           cfg.Flags,
		vfs:             cfg.VFS,
		logger:          logger,
		clock:           clk,
		slowThreshold:   cfg.SlowThreshold,
		reentrancyGuard: cfg.ReentrancyGuard,
		tasks:           make(chan *task),
		workerDone:      make(chan struct{}),
	}
	go queue.work()

	logger.Info("sqlite queue opened", "path", cfg.Path, "vfs", cfg.VFS)
	return queue, nil
}

// Path returns the database path the queue was opened with.
func (q *Queue) Path() string { return q.path }

// Flags returns the open flags from Config (zero if defaults were used).
func (q *Queue) Flags() sqlite.OpenFlags { return q.flags }

// VFS returns the custom VFS name, or "".
func (q *Queue) VFS() string { return q.vfs }

// InDatabase runs fn on the queue's connection and returns fn's error.
// It blocks until fn has returned. If ctx is done before fn's turn
// comes, fn does not run and ctx.Err() is returned. A transaction fn
// leaves open is rolled back, with a warning, before the next task.
func (q *Queue) InDatabase(ctx context.Context, fn sqlconn.Func) error {
	var err error
	if submitErr := q.submit(ctx, func(ctx context.Context) {
		err = fn(ctx, q.conn)
	}); submitErr != nil {
		return submitErr
	}
	return err
}

// InTransaction runs fn inside BEGIN EXCLUSIVE. See
// sqlconn.RunTransaction for commit and rollback behavior.
func (q *Queue) InTransaction(ctx context.Context, fn sqlconn.TxFunc) error {
	return q.inTransaction(ctx, sqlconn.Exclusive, fn)
}

// InDeferredTransaction runs fn inside BEGIN DEFERRED.
func (q *Queue) InDeferredTransaction(ctx context.Context, fn sqlconn.TxFunc) error {
	return q.inTransaction(ctx, sqlconn.Deferred, fn)
}

func (q *Queue) inTransaction(ctx context.Context, mode sqlconn.TxMode, fn sqlconn.TxFunc) error {
	var err error
	if submitErr := q.submit(ctx, func(ctx context.Context) {
		err = sqlconn.RunTransaction(ctx, q.conn, mode, fn, q.logger)
	}); submitErr != nil {
		return submitErr
	}
	return err
}

// InSavepoint runs fn inside a uniquely named savepoint and returns the
// first failure, or nil. Called with a context from one of this
// queue's callbacks while that callback is still running, it runs
// immediately on the held connection rather than waiting for the lane.
// Such nested calls from goroutines the callback started take turns,
// and the callback does not finish until they have. Once the callback
// has returned its context is ordinary again and the call waits for
// the lane.
func (q *Queue) InSavepoint(ctx context.Context, fn sqlconn.TxFunc) error {
	name := sqlconn.SavepointName(q.savepoints.Add(1))
	if nested, err := sqlconn.Nested(ctx, q, func(ctx context.Context, conn sqlconn.Conn) error {
		return sqlconn.RunSavepoint(ctx, conn, name, fn)
	}); nested {
		return err
	}

	var err error
	if submitErr := q.submit(ctx, func(ctx context.Context) {
		err = sqlconn.RunSavepoint(ctx, q.conn, name, fn)
	}); submitErr != nil {
		return submitErr
	}
	return err
}

// Interrupt asks the connection to abort whatever statement is running.
// Safe from any goroutine. The statement fails with SQLITE_INTERRUPT,
// as does every later statement in the same callback; the next callback
// starts with the interrupt cleared.
func (q *Queue) Interrupt() {
	q.conn.Interrupt()
}

// Close stops accepting work, waits for the running callback and any
// caller already waiting for the lane, then closes the connection.
// Later calls fail with ErrClosed. Close must not be called from inside
// a callback. Closing twice is a no-op.
func (q *Queue) Close() error {
	q.submitMu.Lock()
	if q.closed {
		q.submitMu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.submitMu.Unlock()

	<-q.workerDone

	if err := q.conn.Close(); err != nil {
		q.logger.Error("sqlite queue close error", "path", q.path, "error", err)
		return fmt.Errorf("sqlitequeue: %w", err)
	}
	q.logger.Info("sqlite queue closed", "path", q.path)
	return nil
}

// submit hands run to the worker and waits for it to finish. A panic
// inside run is re-raised on the calling goroutine, and so is a
// runtime.Goexit.
func (q *Queue) submit(ctx context.Context, run func(ctx context.Context)) error {
	if q.reentrancyGuard {
		if _, held := sqlconn.Held(ctx, q); held {
			return sqlconn.ErrReentrant
		}
	}

	t := &task{ctx: ctx, run: run, done: make(chan struct{})}

	q.submitMu.RLock()
	if q.closed {
		q.submitMu.RUnlock()
		return ErrClosed
	}
	select {
	case q.tasks <- t:
		q.submitMu.RUnlock()
	case <-ctx.Done():
		q.submitMu.RUnlock()
		return ctx.Err()
	}

	<-t.done
	if t.panicked {
		panic(t.panicValue)
	}
	if t.exited {
		runtime.Goexit()
	}
	return nil
}

// rollbackLeftover rolls back a transaction the task left open, so the
// next task starts in autocommit mode.
func (q *Queue) rollbackLeftover() {
	if !q.conn.InTransaction() {
		return
	}
	q.logger.Warn("callback left a transaction open; rolling back",
		"path", q.path,
	)
	q.conn.ClearInterrupt()
	if err := q.conn.Rollback(); err != nil {
		q.logger.Error("transaction rollback failed",
			"path", q.path,
			"error", err,
		)
	}
}

// work is the lane: it runs tasks one at a time until Close closes the
// task channel. A callback that calls runtime.Goexit ends the goroutine
// running work, so a fresh one takes over the lane.
func (q *Queue) work() {
	drained := false
	defer func() {
		if !drained {
			go q.work()
			return
		}
		close(q.workerDone)
	}()
	for t := range q.tasks {
		q.execute(t)
	}
	drained = true
}

func (q *Queue) execute(t *task) {
	returned := false
	defer close(t.done)
	defer func() {
		if recovered := recover(); recovered != nil {
			t.panicked = true
			t.panicValue = recovered
			return
		}
		if !returned {
			t.exited = true
			q.logger.Warn("sqlite queue callback called runtime.Goexit",
				"path", q.path,
			)
		}
	}()

	defer q.rollbackLeftover()

	q.conn.ClearInterrupt()
	start := q.clock.Now()

	ctx, release := sqlconn.WithHeld(t.ctx, q, q.conn)
	defer release()
	t.run(ctx)
	returned = true

	if q.slowThreshold > 0 {
		if elapsed := clock.Since(q.clock, start); elapsed >= q.slowThreshold {
			q.logger.Warn("slow sqlite queue task",
				"path", q.path,
				"elapsed", elapsed,
				"threshold", q.slowThreshold,
			)
		}
	}
}

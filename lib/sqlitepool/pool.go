// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/sqlitelane/lib/clock"
	"github.com/bureau-foundation/sqlitelane/lib/sqlconn"
)

var (
	// ErrClosed is returned by checkouts after Close.
	ErrClosed = errors.New("sqlitepool: pool is closed")

	// ErrAdmissionDeclined is returned when the Delegate rejects a newly
	// opened connection. The connection has been closed and the callback
	// did not run.
	ErrAdmissionDeclined = errors.New("sqlitepool: delegate declined new connection")
)

// Config holds the parameters for opening a connection pool. All fields
// are optional.
type Config struct {
	// Path is the database file. ":memory:" and "" (private temporary
	// database) are passed to the opener unchanged, but every pooled
	// connection then sees its own separate database; set
	// MaxConnections to 1 if that matters.
	Path string

	// Flags is the open-flags bitmask for every connection. Zero means
	// sqlconn.DefaultFlags.
	Flags sqlite.OpenFlags

	// VFS names a registered SQLite VFS. Empty selects the default.
	VFS string

	// Opener creates each connection. Nil means sqlconn.DefaultOpener.
	// Conn values it returns must be comparable (pointer types).
	Opener sqlconn.Opener

	// OnConnect is called once per connection after it opens. If it
	// returns an error the connection is discarded and the checkout
	// that triggered the open fails.
	OnConnect func(conn sqlconn.Conn) error

	// MaxConnections caps the number of open connections. Zero or
	// negative means unbounded. When the cap is reached, checkouts wait
	// for a checkin and are served oldest first.
	MaxConnections int

	// Delegate, if set, approves every newly opened connection before
	// first use. See [Delegate].
	Delegate Delegate

	// Logger receives operational messages (open/close, commit and
	// rollback failures, stray checkins, checkout waits). If nil, a
	// no-op logger is used.
	Logger *slog.Logger

	// Clock measures how long checkouts wait. Defaults to clock.Real().
	Clock clock.Clock

	// ReentrancyGuard makes a checkout fail with sqlconn.ErrReentrant
	// when its context comes from a callback already holding one of
	// this pool's connections.
	ReentrancyGuard bool
}

// Pool hands out SQLite connections to callbacks, opening new ones on
// demand up to MaxConnections. Checked-out connections run concurrently;
// nothing serializes work across them beyond SQLite's own locking.
//
// Pool is safe for concurrent use. Individual connections are not: a
// connection belongs to one callback from checkout to checkin.
type Pool struct {
	params          sqlconn.Params
	maxConnections  int
	delegate        Delegate
	logger          *slog.Logger
	clock           clock.Clock
	reentrancyGuard bool

	savepoints atomic.Uint64

	// mu guards everything below. Every connection the pool has opened
	// and not yet released is in exactly one of available and busy.
	mu        sync.Mutex
	available []sqlconn.Conn
	busy      map[sqlconn.Conn]struct{}
	opening   int // slots reserved by checkouts that are opening a connection
	waiters   []*waiter
	closed    bool
}

// waiter is a checkout blocked on a full pool. Whoever removes a
// waiter from Pool.waiters sends it exactly one grant, under the mutex.
type waiter struct {
	ready chan grant
}

// grant is what a waiter is woken with: a checked-in connection, a slot
// already reserved in Pool.opening for it to open a connection in, or
// neither when the pool closed and the checkout should retry.
type grant struct {
	conn     sqlconn.Conn
	reserved bool
}

var _ sqlconn.Runner = (*Pool)(nil)

// Open creates an empty pool. No connection is opened until the first
// checkout, so Open itself cannot fail on a bad path; the first callback
// reports it instead.
func Open(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	pool := &Pool{
		params: sqlconn.Params{
			Path:      cfg.Path,
			Flags:     cfg.Flags,
			VFS:       cfg.VFS,
			Opener:    cfg.Opener,
			OnConnect: cfg.OnConnect,
		},
		maxConnections:  cfg.MaxConnections,
		delegate:        cfg.Delegate,
		logger:          logger,
		clock:           clk,
		reentrancyGuard: cfg.ReentrancyGuard,
		busy:            make(map[sqlconn.Conn]struct{}),
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"max_connections", cfg.MaxConnections,
	)
	return pool
}

// Path returns the database path.
func (p *Pool) Path() string { return p.params.Path }

// Flags returns the open flags from Config (zero if defaults were used).
func (p *Pool) Flags() sqlite.OpenFlags { return p.params.Flags }

// VFS returns the custom VFS name, or "".
func (p *Pool) VFS() string { return p.params.VFS }

// MaxConnections returns the configured cap; zero or negative means
// unbounded.
func (p *Pool) MaxConnections() int { return p.maxConnections }

// CountCheckedIn returns the number of idle connections.
func (p *Pool) CountCheckedIn() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// CountCheckedOut returns the number of connections currently lent out.
func (p *Pool) CountCheckedOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.busy)
}

// CountOpen returns CountCheckedIn + CountCheckedOut as one snapshot.
func (p *Pool) CountOpen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available) + len(p.busy)
}

// InDatabase checks out a connection, runs fn on it, and checks it back
// in, returning fn's error. If fn leaves a transaction open it is rolled
// back (with a warning) before the connection goes back to the pool.
func (p *Pool) InDatabase(ctx context.Context, fn sqlconn.Func) error {
	conn, err := p.checkout(ctx)
	if err != nil {
		return err
	}
	defer p.release(conn)

	conn.ClearInterrupt()
	ctx, releaseHeld := sqlconn.WithHeld(ctx, p, conn)
	defer releaseHeld()
	return fn(ctx, conn)
}

// InTransaction runs fn on a checked-out connection inside BEGIN
// EXCLUSIVE. A failed COMMIT is logged and not returned; see
// sqlconn.RunTransaction.
func (p *Pool) InTransaction(ctx context.Context, fn sqlconn.TxFunc) error {
	return p.inTransaction(ctx, sqlconn.Exclusive, fn)
}

// InDeferredTransaction runs fn on a checked-out connection inside
// BEGIN DEFERRED.
func (p *Pool) InDeferredTransaction(ctx context.Context, fn sqlconn.TxFunc) error {
	return p.inTransaction(ctx, sqlconn.Deferred, fn)
}

func (p *Pool) inTransaction(ctx context.Context, mode sqlconn.TxMode, fn sqlconn.TxFunc) error {
	conn, err := p.checkout(ctx)
	if err != nil {
		return err
	}
	defer p.release(conn)

	conn.ClearInterrupt()
	ctx, releaseHeld := sqlconn.WithHeld(ctx, p, conn)
	defer releaseHeld()
	return sqlconn.RunTransaction(ctx, conn, mode, fn, p.logger)
}

// InSavepoint runs fn on a checked-out connection inside a uniquely
// named savepoint and returns the first failure, or nil.
//
// Every call performs its own checkout, including calls made from inside
// another callback on this pool: the nested savepoint then runs on a
// different connection, and with every connection lent out it waits
// forever. To nest savepoints, call conn.Savepoint (or
// sqlconn.RunSavepoint) on the connection the callback already has.
func (p *Pool) InSavepoint(ctx context.Context, fn sqlconn.TxFunc) error {
	conn, err := p.checkout(ctx)
	if err != nil {
		return err
	}
	defer p.release(conn)

	conn.ClearInterrupt()
	name := sqlconn.SavepointName(p.savepoints.Add(1))
	ctx, releaseHeld := sqlconn.WithHeld(ctx, p, conn)
	defer releaseHeld()
	return sqlconn.RunSavepoint(ctx, conn, name, fn)
}

// ReleaseAll closes every connection the pool holds, idle or lent out,
// and returns the joined close errors. It does not wait for callbacks
// still using a lent-out connection: their later statements fail and
// their checkins are ignored. Blocked checkouts are woken, oldest
// first and as many as the cap allows, and open fresh connections.
func (p *Pool) ReleaseAll() error {
	p.mu.Lock()
	conns := p.takeAllLocked()
	for p.grantSlotLocked() {
	}
	p.mu.Unlock()

	err := closeAll(conns)
	p.logger.Info("sqlite pool released connections",
		"path", p.params.Path,
		"released", len(conns),
	)
	return err
}

// Close releases every connection and makes later checkouts fail with
// ErrClosed. Closing twice is a no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.takeAllLocked()
	p.wakeAllLocked()
	p.mu.Unlock()

	if err := closeAll(conns); err != nil {
		p.logger.Error("sqlite pool close error",
			"path", p.params.Path,
			"error", err,
		)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.params.Path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.params.Path)
	return nil
}

// checkout lends a connection to the caller: an idle one if any, a new
// one if below the cap, otherwise the next one checked in. Waiting
// checkouts are served in arrival order.
func (p *Pool) checkout(ctx context.Context) (sqlconn.Conn, error) {
	if p.reentrancyGuard {
		if _, held := sqlconn.Held(ctx, p); held {
			return nil, sqlconn.ErrReentrant
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := p.clock.Now()
	waited := false
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		if n := len(p.available); n > 0 {
			conn := p.available[n-1]
			p.available = p.available[:n-1]
			p.busy[conn] = struct{}{}
			p.mu.Unlock()
			p.logWait(waited, start)
			return conn, nil
		}

		if p.maxConnections <= 0 || len(p.available)+len(p.busy)+p.opening < p.maxConnections {
			p.opening++
			p.mu.Unlock()
			p.logWait(waited, start)
			return p.openConnection()
		}

		w := &waiter{ready: make(chan grant, 1)}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()
		waited = true

		select {
		case granted := <-w.ready:
			if granted.conn != nil {
				p.logWait(waited, start)
				return granted.conn, nil
			}
			if granted.reserved {
				p.logWait(waited, start)
				return p.openConnection()
			}
		case <-ctx.Done():
			p.abandonWait(w)
			return nil, ctx.Err()
		}
	}
}

// abandonWait withdraws a cancelled waiter. If a grant got to it first,
// the connection is checked back in or the reserved slot is handed to
// the next waiter.
func (p *Pool) abandonWait(w *waiter) {
	p.mu.Lock()
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	granted := <-w.ready
	switch {
	case granted.conn != nil:
		p.checkin(granted.conn)
	case granted.reserved:
		p.releaseReservation()
	}
}

// openConnection opens a connection in a slot the caller reserved by
// incrementing p.opening, runs admission, and records it as busy.
func (p *Pool) openConnection() (sqlconn.Conn, error) {
	conn, err := p.params.Open()
	if err != nil {
		p.releaseReservation()
		return nil, fmt.Errorf("sqlitepool: %w", err)
	}

	if p.delegate != nil && !p.delegate.ShouldAdd(p, conn) {
		if closeErr := conn.Close(); closeErr != nil {
			p.logger.Error("closing declined connection failed",
				"path", p.params.Path,
				"error", closeErr,
			)
		}
		p.releaseReservation()
		return nil, ErrAdmissionDeclined
	}

	p.mu.Lock()
	p.opening--
	if p.closed {
		p.mu.Unlock()
		if closeErr := conn.Close(); closeErr != nil {
			p.logger.Error("closing connection opened during pool close failed",
				"path", p.params.Path,
				"error", closeErr,
			)
		}
		return nil, ErrClosed
	}
	p.busy[conn] = struct{}{}
	open := len(p.available) + len(p.busy)
	p.mu.Unlock()

	if p.delegate != nil {
		p.delegate.DidAdd(p, conn)
	}
	p.logger.Debug("sqlite pool connection opened",
		"path", p.params.Path,
		"open", open,
	)
	return conn, nil
}

// releaseReservation gives up a slot reserved for an open that did not
// produce a connection. The oldest waiter inherits it.
func (p *Pool) releaseReservation() {
	p.mu.Lock()
	p.opening--
	p.grantSlotLocked()
	p.mu.Unlock()
}

// release rolls back anything the callback left open and checks the
// connection in. Deferred by every wrapper, so it also runs when the
// callback panics.
func (p *Pool) release(conn sqlconn.Conn) {
	if conn.InTransaction() {
		p.logger.Warn("callback left a transaction open; rolling back",
			"path", p.params.Path,
		)
		conn.ClearInterrupt()
		if err := conn.Rollback(); err != nil {
			p.logger.Error("transaction rollback failed",
				"path", p.params.Path,
				"error", err,
			)
		}
	}
	p.checkin(conn)
}

// checkin hands conn to the oldest waiter, or returns it to the idle
// set. A connection the pool no longer tracks (released while lent out)
// is ignored.
func (p *Pool) checkin(conn sqlconn.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.busy[conn]; !ok {
		p.logger.Warn("checkin of a connection the pool no longer owns",
			"path", p.params.Path,
		)
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ready <- grant{conn: conn}
		return
	}

	delete(p.busy, conn)
	p.available = append(p.available, conn)
}

// grantSlotLocked reserves a free slot for the oldest waiter and wakes
// it to open a connection there. The slot is never up for grabs, so a
// checkout arriving meanwhile cannot jump the queue. It reports whether
// a waiter was woken.
func (p *Pool) grantSlotLocked() bool {
	if len(p.waiters) == 0 || p.closed {
		return false
	}
	if p.maxConnections > 0 && len(p.available)+len(p.busy)+p.opening >= p.maxConnections {
		return false
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.opening++
	w.ready <- grant{reserved: true}
	return true
}

// wakeAllLocked empties the wait queue on close; every waiter retries
// and finds the pool closed.
func (p *Pool) wakeAllLocked() {
	for _, w := range p.waiters {
		w.ready <- grant{}
	}
	p.waiters = nil
}

// takeAllLocked empties both sets and returns their connections.
func (p *Pool) takeAllLocked() []sqlconn.Conn {
	conns := make([]sqlconn.Conn, 0, len(p.available)+len(p.busy))
	conns = append(conns, p.available...)
	for conn := range p.busy {
		conns = append(conns, conn)
	}
	p.available = nil
	p.busy = make(map[sqlconn.Conn]struct{})
	return conns
}

// logWait reports how long a checkout that had to queue waited.
func (p *Pool) logWait(waited bool, start time.Time) {
	if !waited {
		return
	}
	p.logger.Debug("sqlite pool checkout waited",
		"path", p.params.Path,
		"waited", clock.Since(p.clock, start),
	)
}

func closeAll(conns []sqlconn.Conn) error {
	var errs []error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

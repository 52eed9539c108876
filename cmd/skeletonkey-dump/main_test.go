// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skeletonkey.dev/skeletonkey/event"
	"skeletonkey.dev/skeletonkey/wire"
)

func writeSample(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wire.NewEncoder(f)
	events := []*event.Event{
		{Timestamp: 1000, TID: 42, Kind: event.MutexLock, Ptr1: 0xdeadbeef},
		{Timestamp: 1500, TID: 42, Kind: event.MutexLockDone, Ptr1: 0xdeadbeef,
			Result: 0, DurationNS: 500, Stack: []uint64{0x401000, 0x402000}},
		{Timestamp: 1600, TID: 42, Kind: event.MutexUnlock, Ptr1: 0xdeadbeef},
	}
	for _, evt := range events {
		if err := enc.Encode(evt); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDumpFormatsKnownEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.bin")
	writeSample(t, path)

	var buf bytes.Buffer
	if err := dump(&buf, path); err != nil {
		t.Fatalf("dump: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"tid=42", "MutexLock", "MutexLockDone", "duration=", "0xdeadbeef", "Stack trace:", "0x00000000401000"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDumpMissingFile(t *testing.T) {
	var buf bytes.Buffer
	if err := dump(&buf, filepath.Join(t.TempDir(), "nope.bin")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestDumpTruncatedTraceEndsCleanly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.bin")
	writeSample(t, path)

	full, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, full[:len(full)-1], 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := dump(&buf, path); err != nil {
		t.Fatalf("dump on truncated trace should not error: %v", err)
	}
	if !strings.Contains(buf.String(), "mid-record") {
		t.Error("want a note about the trace ending mid-record")
	}
}

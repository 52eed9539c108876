// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package writer_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"skeletonkey.dev/skeletonkey/event"
	"skeletonkey.dev/skeletonkey/wire"
	"skeletonkey.dev/skeletonkey/writer"
)

func testEvent(tid uint32) *event.Event {
	return &event.Event{
		Timestamp:  1,
		TID:        tid,
		Kind:       event.MutexLock,
		Ptr1:       0x1000,
		DurationNS: 0,
	}
}

// TestAtomicAppend is property P5: under N concurrent producers, every
// record in the output decodes cleanly and Kind never takes an invalid
// tag value.
func TestAtomicAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.bin")
	w, err := writer.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	const (
		producers = 32
		perGo     = 50
	)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(tid uint32) {
			defer wg.Done()
			for i := 0; i < perGo; i++ {
				w.Append(testEvent(tid))
			}
		}(uint32(p))
	}
	wg.Wait()
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wire.NewDecoder(f)
	var n int
	for dec.More() {
		evt, err := dec.Decode()
		if err != nil {
			break
		}
		if !evt.Kind.Valid() {
			t.Fatalf("record %d: invalid kind %v", n, evt.Kind)
		}
		n++
	}
	if err := dec.Err(); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if want := producers * perGo; n != want {
		t.Fatalf("decoded %d records, want %d", n, want)
	}
}

// TestOpenFailureDegradesToNoop is OutputOpenFailed: a Writer built from
// an Open error must not panic and must not block Append.
func TestOpenFailureDegradesToNoop(t *testing.T) {
	w, err := writer.Open("/nonexistent-dir-for-skeletonkey/trace.bin")
	if err == nil {
		t.Fatal("expected an OpenError")
	}
	if _, ok := err.(*writer.OpenError); !ok {
		t.Fatalf("got %T, want *writer.OpenError", err)
	}
	if err := w.Append(testEvent(1)); err != nil {
		t.Fatalf("Append on no-op writer returned %v", err)
	}
	if w.Appended() != 0 {
		t.Fatalf("Appended() = %d, want 0", w.Appended())
	}
}

func TestNilWriterIsNoop(t *testing.T) {
	var w *writer.Writer
	if err := w.Append(testEvent(1)); err != nil {
		t.Fatalf("Append on nil writer returned %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close on nil writer returned %v", err)
	}
}

func BenchmarkAppend(b *testing.B) {
	path := filepath.Join(b.TempDir(), "trace.bin")
	w, err := writer.Open(path)
	if err != nil {
		b.Fatal(err)
	}
	defer w.Close()

	evt := testEvent(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Append(evt)
	}
	b.ReportMetric(float64(w.Appended())/float64(b.N), "events/op")
}

// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire_test

import (
	"bytes"
	"io"
	"reflect"
	"testing"

	"skeletonkey.dev/skeletonkey/event"
	"skeletonkey.dev/skeletonkey/wire"
)

func sample() *event.Event {
	return &event.Event{
		Timestamp:  123456789,
		TID:        4242,
		Kind:       event.MutexLockDone,
		Ptr1:       0xdeadbeef,
		Ptr2:       0,
		Result:     -1,
		DurationNS: 9000,
		Stack:      []uint64{0x1000, 0x2000, 0x3000},
	}
}

// TestRecordRoundTrip is property P2: decode(encode(r)) is byte-equal to r.
func TestRecordRoundTrip(t *testing.T) {
	evt := sample()

	var buf bytes.Buffer
	enc := wire.NewEncoder(&buf)
	if err := enc.Encode(evt); err != nil {
		t.Fatal(err)
	}

	dec := wire.NewDecoder(&buf)
	got, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, evt) {
		t.Fatalf("got %+v, want %+v", got, evt)
	}
	if dec.More() {
		t.Fatal("unexpected trailing data")
	}
}

// TestPrefixParsable is property P7: any prefix of a valid trace decodes
// to a proper prefix of the event sequence, stopping cleanly at the last
// complete record.
func TestPrefixParsable(t *testing.T) {
	events := []*event.Event{sample(), sample(), sample()}
	events[1].Kind = event.CondWait
	events[2].Kind = event.RWLockWriteDone

	var full []byte
	for _, e := range events {
		full = wire.AppendEvent(full, e)
	}

	for n := 0; n <= len(full); n++ {
		dec := wire.NewDecoder(bytes.NewReader(full[:n]))
		var got []*event.Event
		for dec.More() {
			evt, err := dec.Decode()
			if err != nil {
				break
			}
			got = append(got, evt)
		}
		if err := dec.Err(); err != nil {
			t.Fatalf("n=%d: unexpected fatal error: %v", n, err)
		}
		if len(got) > len(events) {
			t.Fatalf("n=%d: decoded more events than written", n)
		}
		for i, evt := range got {
			if !reflect.DeepEqual(evt, events[i]) {
				t.Fatalf("n=%d: event %d mismatch: got %+v, want %+v", n, i, evt, events[i])
			}
		}
	}
}

func TestDecodeEmpty(t *testing.T) {
	dec := wire.NewDecoder(bytes.NewReader(nil))
	if dec.More() {
		t.Fatal("More() on empty stream")
	}
	if _, err := dec.Decode(); err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

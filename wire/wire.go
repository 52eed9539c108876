// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the Encoder and Decoder for the skeletonkey
// trace format: a headerless, footerless concatenation of records, each
// the varint-encoded fields of one event.Event with no length prefix. See spec.md §4.2 and
// §6 for the exact field order and the "no header, no footer, Kind is the
// only schema discriminator" versioning policy.
package wire

import (
	"bufio"
	"errors"
	"io"

	"skeletonkey.dev/skeletonkey/event"
	"skeletonkey.dev/skeletonkey/varint"
)

// ErrTruncated is returned by Decoder.Decode when a record's stack count
// exceeds event.MaxStackDepth, which no well-formed encoder writes. A
// stream that ends mid varint or mid record is not reported through
// ErrTruncated: a trace file is always a valid prefix of any longer trace
// from the same run (spec.md invariant 5, property P7), so Decode returns
// io.EOF there and Decoder.LastWasTruncated reports true.
var ErrTruncated = errors.New("wire: truncated trace")

// AppendEvent appends the wire encoding of evt to dst and returns the
// extended buffer. Field order is fixed: timestamp, tid, kind, ptr1, ptr2,
// result, duration_ns, stack (length-prefixed).
func AppendEvent(dst []byte, evt *event.Event) []byte {
	dst = varint.AppendUint64(dst, evt.Timestamp)
	dst = varint.AppendUint64(dst, uint64(evt.TID))
	dst = append(dst, byte(evt.Kind))
	dst = varint.AppendUint64(dst, evt.Ptr1)
	dst = varint.AppendUint64(dst, evt.Ptr2)
	dst = varint.AppendUint64(dst, varint.ToUnsigned(evt.Result))
	dst = varint.AppendUint64(dst, evt.DurationNS)
	dst = varint.AppendUint64(dst, uint64(len(evt.Stack)))
	for _, pc := range evt.Stack {
		dst = varint.AppendUint64(dst, pc)
	}
	return dst
}

// Encoder writes events to an output stream in the skeletonkey trace
// format. It keeps a reusable scratch buffer, so repeated calls to Encode
// do not allocate once the buffer has grown to the size of the largest
// record seen.
type Encoder struct {
	w     io.Writer
	err   error
	batch []byte
}

// NewEncoder returns an Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first error encountered by Encode, if any.
func (e *Encoder) Err() error { return e.err }

// Encode writes one event. Once Encode returns an error, all future calls
// return the same error.
func (e *Encoder) Encode(evt *event.Event) error {
	if e.err != nil {
		return e.err
	}
	e.batch = AppendEvent(e.batch[:0], evt)
	if _, err := e.w.Write(e.batch); err != nil {
		e.err = err
		return err
	}
	return nil
}

// Decoder reads events from the skeletonkey trace format.
type Decoder struct {
	r         *bufio.Reader
	err       error
	truncated bool
}

// NewDecoder returns a Decoder that reads from r. If r is already a
// *bufio.Reader it is used directly, matching the convention
// cstockton/go-trace's encoding.NewDecoder follows.
func NewDecoder(r io.Reader) *Decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Decoder{r: br}
}

// More reports whether another event may still be available. Once it
// returns false, it keeps returning false.
func (d *Decoder) More() bool {
	if d.err != nil {
		return false
	}
	_, err := d.r.Peek(1)
	return err == nil
}

// Err returns the first non-EOF error encountered while decoding.
func (d *Decoder) Err() error {
	if d.err == io.EOF {
		return nil
	}
	return d.err
}

// LastWasTruncated reports whether decoding stopped because the final
// record in the stream was incomplete (property P7: this is not a fatal
// error, just the end of a valid prefix).
func (d *Decoder) LastWasTruncated() bool { return d.truncated }

// Decode reads and returns the next event, or an error. Once Decode
// returns a non-nil error, all future calls return the same error.
func (d *Decoder) Decode() (*event.Event, error) {
	if d.err != nil {
		return nil, d.err
	}
	evt, err := d.decode()
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			d.truncated = err == io.ErrUnexpectedEOF
			err = io.EOF
		}
		d.err = err
		return nil, err
	}
	return evt, nil
}

func (d *Decoder) decode() (*event.Event, error) {
	// A clean end of stream is only one that falls before the record's
	// first byte; ending inside the timestamp varint is a truncation.
	if _, err := d.r.Peek(1); err != nil {
		return nil, eofOr(err)
	}
	ts, err := varint.ReadUint64(d.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	tid, err := varint.ReadUint64(d.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	kindByte, err := d.r.ReadByte()
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	ptr1, err := varint.ReadUint64(d.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	ptr2, err := varint.ReadUint64(d.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	result, err := varint.ReadUint64(d.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	dur, err := varint.ReadUint64(d.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	depth, err := varint.ReadUint64(d.r)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	if depth > event.MaxStackDepth {
		// A well-formed encoder never writes more than MaxStackDepth
		// frames; treat an oversized count as a truncated/corrupt
		// record rather than attempting a huge allocation.
		return nil, ErrTruncated
	}
	stack := make([]uint64, depth)
	for i := range stack {
		pc, err := varint.ReadUint64(d.r)
		if err != nil {
			return nil, unexpectedEOF(err)
		}
		stack[i] = pc
	}
	return &event.Event{
		Timestamp:  ts,
		TID:        uint32(tid),
		Kind:       event.Kind(kindByte),
		Ptr1:       ptr1,
		Ptr2:       ptr2,
		Result:     varint.ToSigned(result),
		DurationNS: dur,
		Stack:      stack,
	}, nil
}

func eofOr(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	return io.ErrUnexpectedEOF
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package varint implements the little-endian base-128 variable length
// integer codec used by the skeletonkey trace format.
//
// Encoding matches the one skeleton_key.cpp uses on the wire: seven payload
// bits per byte, the high bit set means "more bytes follow", the
// terminating byte has it clear, and zero encodes as a single zero byte.
// There is no ZigZag step; callers that need to carry a signed value
// reinterpret it as unsigned two's-complement before encoding.
package varint

import "errors"

// ErrTruncated is returned by Uint64 when src ends before a full value has
// been decoded.
var ErrTruncated = errors.New("varint: truncated")

// MaxLen is the longest a base-128 encoding of a uint64 can be.
const MaxLen = 10

// AppendUint64 appends the base-128 encoding of v to dst and returns the
// extended buffer. It never allocates beyond what appending already
// requires, so it is safe to call on the per-event hot path with a reused
// scratch buffer.
func AppendUint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Uint64 decodes a single varint from the front of src, returning the
// value and the number of bytes consumed. It returns ErrTruncated if src
// ends before a terminating byte (one with the high bit clear) is seen, or
// if the value would need more than MaxLen bytes.
func Uint64(src []byte) (v uint64, n int, err error) {
	var shift uint
	for n < len(src) && n < MaxLen {
		b := src[n]
		n++
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, n, nil
		}
		shift += 7
	}
	return 0, n, ErrTruncated
}

// ByteReader is the minimal interface ReadUint64 needs from an input stream.
type ByteReader interface {
	ReadByte() (byte, error)
}

// ReadUint64 decodes a single varint from r, one byte at a time. It is the
// streaming counterpart of Uint64, used by the decoder so that records
// need not be buffered whole in memory ahead of time.
func ReadUint64(r ByteReader) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < MaxLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, ErrTruncated
}

// ToUnsigned reinterprets a signed 32-bit value as its unsigned
// two's-complement bit pattern, sign-extended to 64 bits, for encoding.
// This is the "reinterpret, not ZigZag" Open Question spec.md standardizes
// on, matching skeletonkey.cpp's static_cast<uint64_t>(result): negative
// results such as -1 expand to the full 10-byte varint, which is
// acceptable because error returns are rare on the hot path.
func ToUnsigned(v int32) uint64 {
	return uint64(int64(v))
}

// ToSigned is the inverse of ToUnsigned, recovering a true negative error
// code from the wire's unsigned representation.
func ToSigned(v uint64) int32 {
	return int32(uint32(v))
}

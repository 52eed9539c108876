// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event defines the in-memory shape of one observed pthread call,
// the unit the wire package serializes and the writer package appends.
package event

import "fmt"

// MaxStackDepth bounds the number of call-site return addresses captured
// per event. Deeper stacks are truncated silently.
const MaxStackDepth = 16

// Kind tags the closed set of observable operations. Values are part of
// the wire format: once assigned, a tag number must never be reused or
// renumbered, only appended to.
type Kind uint8

const (
	ThreadCreate Kind = iota

	MutexInit
	MutexDestroy
	MutexLock
	MutexLockDone
	MutexTryLock
	MutexTryLockDone
	MutexTimedLock
	MutexTimedLockDone
	MutexUnlock

	RWLockInit
	RWLockDestroy
	RWLockRead
	RWLockReadDone
	RWLockTryRead
	RWLockTryReadDone
	RWLockTimedRead
	RWLockTimedReadDone
	RWLockWrite
	RWLockWriteDone
	RWLockTryWrite
	RWLockTryWriteDone
	RWLockTimedWrite
	RWLockTimedWriteDone
	RWLockUnlock

	CondInit
	CondDestroy
	CondSignal
	CondBroadcast
	CondWait
	CondWaitDone
	CondTimedWait
	CondTimedWaitDone

	numKinds
)

var kindNames = [numKinds]string{
	ThreadCreate: "ThreadCreate",

	MutexInit:          "MutexInit",
	MutexDestroy:       "MutexDestroy",
	MutexLock:          "MutexLock",
	MutexLockDone:      "MutexLockDone",
	MutexTryLock:       "MutexTryLock",
	MutexTryLockDone:   "MutexTryLockDone",
	MutexTimedLock:     "MutexTimedLock",
	MutexTimedLockDone: "MutexTimedLockDone",
	MutexUnlock:        "MutexUnlock",

	RWLockInit:           "RWLockInit",
	RWLockDestroy:        "RWLockDestroy",
	RWLockRead:           "RWLockRead",
	RWLockReadDone:       "RWLockReadDone",
	RWLockTryRead:        "RWLockTryRead",
	RWLockTryReadDone:    "RWLockTryReadDone",
	RWLockTimedRead:      "RWLockTimedRead",
	RWLockTimedReadDone:  "RWLockTimedReadDone",
	RWLockWrite:          "RWLockWrite",
	RWLockWriteDone:      "RWLockWriteDone",
	RWLockTryWrite:       "RWLockTryWrite",
	RWLockTryWriteDone:   "RWLockTryWriteDone",
	RWLockTimedWrite:     "RWLockTimedWrite",
	RWLockTimedWriteDone: "RWLockTimedWriteDone",
	RWLockUnlock:         "RWLockUnlock",

	CondInit:          "CondInit",
	CondDestroy:       "CondDestroy",
	CondSignal:        "CondSignal",
	CondBroadcast:     "CondBroadcast",
	CondWait:          "CondWait",
	CondWaitDone:      "CondWaitDone",
	CondTimedWait:     "CondTimedWait",
	CondTimedWaitDone: "CondTimedWaitDone",
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k < numKinds
}

// String implements fmt.Stringer. Unknown tags print as a hex number
// rather than panicking, since the decoder must never crash on a trace
// produced by a newer or differently built encoder.
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(0x%x)", uint8(k))
	}
	return kindNames[k]
}

// Done reports whether k is the blocking "Done" half of a pre/Done pair.
func (k Kind) Done() bool {
	switch k {
	case MutexLockDone, MutexTryLockDone, MutexTimedLockDone,
		RWLockReadDone, RWLockTryReadDone, RWLockTimedReadDone,
		RWLockWriteDone, RWLockTryWriteDone, RWLockTimedWriteDone,
		CondWaitDone, CondTimedWaitDone:
		return true
	}
	return false
}

// Event is one observed pthread call, in the field order spec.md fixes for
// the wire: timestamp, tid, kind, ptr1, ptr2, result, duration_ns, stack.
type Event struct {
	Timestamp  uint64 // nanoseconds, monotonic, non-decreasing per thread
	TID        uint32 // OS thread id of the caller, from gettid(2)
	Kind       Kind
	Ptr1       uint64 // primary object address (mutex/rwlock/cond/thread handle), never zero
	Ptr2       uint64 // auxiliary address (the mutex for a cond wait), zero otherwise
	Result     int32  // return value of the real call; 0 for a pre-event
	DurationNS uint64 // elapsed time of a blocking call; 0 otherwise
	Stack      []uint64
}

// String gives a compact one-line representation, used in test failure
// messages; the canonical multi-line rendering lives in
// cmd/skeletonkey-dump, which also needs the "first timestamp" baseline.
func (e *Event) String() string {
	return fmt.Sprintf("%s tid=%d ptr1=%#x ptr2=%#x result=%d dur=%dns stack=%d",
		e.Kind, e.TID, e.Ptr1, e.Ptr2, e.Result, e.DurationNS, len(e.Stack))
}

// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && cgo

package main

/*
#define _GNU_SOURCE
#include <dlfcn.h>
#include <pthread.h>
#include <execinfo.h>
#include <stdint.h>
#include <time.h>

// One entry per wrapped libc symbol. Order must match symNames in Go.
typedef enum {
	symMutexInit,
	symMutexDestroy,
	symMutexLock,
	symMutexTryLock,
	symMutexTimedLock,
	symMutexUnlock,

	symCondInit,
	symCondDestroy,
	symCondSignal,
	symCondBroadcast,
	symCondWait,
	symCondTimedWait,

	symRWLockInit,
	symRWLockDestroy,
	symRWLockRDLock,
	symRWLockTryRDLock,
	symRWLockTimedRDLock,
	symRWLockWRLock,
	symRWLockTryWRLock,
	symRWLockTimedWRLock,
	symRWLockUnlock,

	symThreadCreate,

	symCount
} sk_sym;

static void *real_syms[symCount];

// The whole pthread_cond_* family (init, destroy, signal, broadcast,
// wait, timedwait) resolves under the older GLIBC_2.3.2 version: glibc
// shipped an ABI-incompatible struct pthread_cond_t in 2.3.2, and dlsym
// alone returns whichever symbol the linker's default version maps to,
// which is not guaranteed to be the current one the caller's own binary
// was built against unless we ask for it explicitly. Mixing versioned
// and default resolution within the cond family is the hazard, so every
// member is resolved the same way, unlike the mutex/rwlock families
// which have no version split to worry about. See spec.md §4.4 and
// original_source/src/skeletonkey.cpp's init_skeleton_key.
static void resolve_all(void) {
	real_syms[symMutexInit]      = dlsym(RTLD_NEXT, "pthread_mutex_init");
	real_syms[symMutexDestroy]   = dlsym(RTLD_NEXT, "pthread_mutex_destroy");
	real_syms[symMutexLock]      = dlsym(RTLD_NEXT, "pthread_mutex_lock");
	real_syms[symMutexTryLock]   = dlsym(RTLD_NEXT, "pthread_mutex_trylock");
	real_syms[symMutexTimedLock] = dlsym(RTLD_NEXT, "pthread_mutex_timedlock");
	real_syms[symMutexUnlock]    = dlsym(RTLD_NEXT, "pthread_mutex_unlock");

	real_syms[symCondInit]      = dlvsym(RTLD_NEXT, "pthread_cond_init", "GLIBC_2.3.2");
	real_syms[symCondDestroy]   = dlvsym(RTLD_NEXT, "pthread_cond_destroy", "GLIBC_2.3.2");
	real_syms[symCondSignal]    = dlvsym(RTLD_NEXT, "pthread_cond_signal", "GLIBC_2.3.2");
	real_syms[symCondBroadcast] = dlvsym(RTLD_NEXT, "pthread_cond_broadcast", "GLIBC_2.3.2");
	real_syms[symCondWait]      = dlvsym(RTLD_NEXT, "pthread_cond_wait", "GLIBC_2.3.2");
	real_syms[symCondTimedWait] = dlvsym(RTLD_NEXT, "pthread_cond_timedwait", "GLIBC_2.3.2");

	real_syms[symRWLockInit]         = dlsym(RTLD_NEXT, "pthread_rwlock_init");
	real_syms[symRWLockDestroy]      = dlsym(RTLD_NEXT, "pthread_rwlock_destroy");
	real_syms[symRWLockRDLock]       = dlsym(RTLD_NEXT, "pthread_rwlock_rdlock");
	real_syms[symRWLockTryRDLock]    = dlsym(RTLD_NEXT, "pthread_rwlock_tryrdlock");
	real_syms[symRWLockTimedRDLock]  = dlsym(RTLD_NEXT, "pthread_rwlock_timedrdlock");
	real_syms[symRWLockWRLock]       = dlsym(RTLD_NEXT, "pthread_rwlock_wrlock");
	real_syms[symRWLockTryWRLock]    = dlsym(RTLD_NEXT, "pthread_rwlock_trywrlock");
	real_syms[symRWLockTimedWRLock]  = dlsym(RTLD_NEXT, "pthread_rwlock_timedwrlock");
	real_syms[symRWLockUnlock]       = dlsym(RTLD_NEXT, "pthread_rwlock_unlock");

	real_syms[symThreadCreate] = dlsym(RTLD_NEXT, "pthread_create");
}

static int sym_missing(int idx) { return real_syms[idx] == 0; }

// call1/call2/call3/call4 dispatch through real_syms by signature shape,
// so every wrapped entry point shares one of four trampolines instead of
// needing its own hand-written one. idx is typed sk_sym, not plain int,
// so that the Go side can pass one of the symXxx constants directly
// without a conversion at every call site.
static int call1(sk_sym idx, void *a) {
	return ((int (*)(void *))real_syms[idx])(a);
}
static int call2(sk_sym idx, void *a, void *b) {
	return ((int (*)(void *, void *))real_syms[idx])(a, b);
}
static int call3(sk_sym idx, void *a, const struct timespec *b) {
	return ((int (*)(void *, const struct timespec *))real_syms[idx])(a, b);
}
static int call4(sk_sym idx, void *a, void *b, const struct timespec *c) {
	return ((int (*)(void *, void *, const struct timespec *))real_syms[idx])(a, b, c);
}
static int call_thread_create(void *thread, void *attr, void *start, void *arg) {
	typedef void *(*start_fn)(void *);
	typedef int (*create_fn)(void *, void *, start_fn, void *);
	return ((create_fn)real_syms[symThreadCreate])(thread, attr, (start_fn)start, arg);
}

// capture_stack fills out with up to max raw return addresses via libc's
// backtrace(3). Frames are not symbolized (spec.md Non-goals).
static int capture_stack(uintptr_t *out, int max) {
	void *frames[32];
	if (max > 32) {
		max = 32;
	}
	int n = backtrace(frames, max);
	for (int i = 0; i < n; i++) {
		out[i] = (uintptr_t)frames[i];
	}
	return n;
}

extern void skeletonkeyInit(void);

__attribute__((constructor)) static void skeletonkeyCtor(void) {
	resolve_all();
	// Go's own c-shared runtime-init constructor is registered ahead of
	// any constructor in user code, so it is safe to call back into Go
	// here: the scheduler is already live.
	skeletonkeyInit();
}

__attribute__((destructor)) static void skeletonkeyDtor(void) {
	extern void skeletonkeyShutdown(void);
	skeletonkeyShutdown();
}
*/
import "C"

import (
	"log"
	"unsafe"

	"golang.org/x/sys/unix"

	"skeletonkey.dev/skeletonkey/event"
	"skeletonkey.dev/skeletonkey/internal/clock"
	"skeletonkey.dev/skeletonkey/internal/guard"
	"skeletonkey.dev/skeletonkey/internal/symtab"
	"skeletonkey.dev/skeletonkey/writer"
)

// symNames mirrors the sk_sym enum above; index i here must describe the
// same symbol as index i there.
var symNames = [...]string{
	"pthread_mutex_init", "pthread_mutex_destroy", "pthread_mutex_lock",
	"pthread_mutex_trylock", "pthread_mutex_timedlock", "pthread_mutex_unlock",
	"pthread_cond_init", "pthread_cond_destroy", "pthread_cond_signal",
	"pthread_cond_broadcast", "pthread_cond_wait", "pthread_cond_timedwait",
	"pthread_rwlock_init", "pthread_rwlock_destroy", "pthread_rwlock_rdlock",
	"pthread_rwlock_tryrdlock", "pthread_rwlock_timedrdlock", "pthread_rwlock_wrlock",
	"pthread_rwlock_trywrlock", "pthread_rwlock_timedwrlock", "pthread_rwlock_unlock",
	"pthread_create",
}

var (
	guardTable = guard.NewTable()
	symTable   = symtab.NewTable()

	// resolvedSyms is the hot-path counterpart to symTable: written once
	// by skeletonkeyInit and never again, so resolved can read it with no
	// locking, matching spec.md §5's "resolver table is read-only after
	// load — no locking needed post-init." symTable itself keeps its
	// RWMutex, since it exists to be exercised by internal/symtab's
	// cgo-free unit tests, not to be read on every wrapped call.
	resolvedSyms [len(symNames)]bool
)

//export skeletonkeyInit
func skeletonkeyInit() {
	for i, name := range symNames {
		if C.sym_missing(C.int(i)) != 0 {
			symTable.MarkMissing(name, unix.ENOSYS)
		} else {
			resolvedSyms[i] = true
		}
	}
	// Every wrapper below consults resolvedSyms through resolved before
	// dispatching, so this loop is not just a diagnostic: it is what
	// gates the ResolverMiss pass-through a missing symbol falls back
	// to, in place of calling through a NULL real_syms entry.
	if missing := symTable.MissingSymbols(); len(missing) > 0 {
		log.Printf("skeletonkey: symbols unresolved, calls return ENOSYS untraced: %v", missing)
	}
	writer.Global()
}

//export skeletonkeyShutdown
func skeletonkeyShutdown() {
	writer.Global().Close()
}

func tid() int32 { return int32(unix.Gettid()) }

func captureStack() []uint64 {
	var buf [event.MaxStackDepth]C.uintptr_t
	n := int(C.capture_stack(&buf[0], C.int(len(buf))))
	stack := make([]uint64, n)
	for i := 0; i < n; i++ {
		stack[i] = uint64(buf[i])
	}
	return stack
}

func emit(kind event.Kind, t int32, ptr1, ptr2 uint64, result int32, durNS uint64) {
	writer.Global().Append(&event.Event{
		Timestamp:  clock.Now(),
		TID:        uint32(t),
		Kind:       kind,
		Ptr1:       ptr1,
		Ptr2:       ptr2,
		Result:     result,
		DurationNS: durNS,
		Stack:      captureStack(),
	})
}

func addr(p unsafe.Pointer) uint64 { return uint64(uintptr(p)) }

// resolved reports whether sym's real implementation was found at load
// time. It reads resolvedSyms rather than symTable or C.sym_missing, so
// the ResolverMiss bookkeeping done once at startup is what every
// wrapper actually gates on (spec.md §4.4/§7, ResolverMiss: "the
// specific wrapper becomes pass-through; other wrappers unaffected"),
// without taking a lock on this hot path.
func resolved(sym C.sk_sym) bool {
	return resolvedSyms[sym]
}

// missingResult is returned by a wrapper whose symbol never resolved,
// in place of calling through a NULL real_syms entry. There is no real
// implementation to delegate to in this case, so "pass-through" means
// "fail safely without logging or crashing the target", not "forward
// the call" in the literal sense — the original C++ shim has no
// equivalent guard and would segfault here; spec.md §7 requires
// tracing to never do that.
const missingResult = C.int(unix.ENOSYS)

// nonBlocking1 wraps a single-pointer-argument call (destroy/unlock/
// signal/broadcast) that logs exactly one event, taken after the real
// call returns.
func nonBlocking1(sym C.sk_sym, kind event.Kind, p unsafe.Pointer) C.int {
	if !resolved(sym) {
		return missingResult
	}
	t := tid()
	if guardTable.Enter(t) {
		return C.call1(sym, p)
	}
	defer guardTable.Leave(t)
	result := C.call1(sym, p)
	emit(kind, t, addr(p), 0, int32(result), 0)
	return result
}

// init2 wraps a (ptr, attr)-argument init call.
func init2(sym C.sk_sym, kind event.Kind, p, attr unsafe.Pointer) C.int {
	if !resolved(sym) {
		return missingResult
	}
	t := tid()
	if guardTable.Enter(t) {
		return C.call2(sym, p, attr)
	}
	defer guardTable.Leave(t)
	result := C.call2(sym, p, attr)
	emit(kind, t, addr(p), 0, int32(result), 0)
	return result
}

// blocking1 wraps a single-pointer blocking call (lock/trylock/rdlock/
// wrlock/...), emitting a pre-event before the real call and a paired
// Done event with elapsed duration after.
func blocking1(sym C.sk_sym, pre, done event.Kind, p unsafe.Pointer) C.int {
	if !resolved(sym) {
		return missingResult
	}
	t := tid()
	if guardTable.Enter(t) {
		return C.call1(sym, p)
	}
	defer guardTable.Leave(t)
	emit(pre, t, addr(p), 0, 0, 0)
	start := clock.Now()
	result := C.call1(sym, p)
	emit(done, t, addr(p), 0, int32(result), clock.Now()-start)
	return result
}

// blocking3 wraps a (ptr, timespec*) blocking call.
func blocking3(sym C.sk_sym, pre, done event.Kind, p unsafe.Pointer, ts *C.struct_timespec) C.int {
	if !resolved(sym) {
		return missingResult
	}
	t := tid()
	if guardTable.Enter(t) {
		return C.call3(sym, p, ts)
	}
	defer guardTable.Leave(t)
	emit(pre, t, addr(p), 0, 0, 0)
	start := clock.Now()
	result := C.call3(sym, p, ts)
	emit(done, t, addr(p), 0, int32(result), clock.Now()-start)
	return result
}

// blocking2 wraps pthread_cond_wait's (cond, mutex) shape.
func blocking2(sym C.sk_sym, pre, done event.Kind, cond, mutex unsafe.Pointer) C.int {
	if !resolved(sym) {
		return missingResult
	}
	t := tid()
	if guardTable.Enter(t) {
		return C.call2(sym, cond, mutex)
	}
	defer guardTable.Leave(t)
	emit(pre, t, addr(cond), addr(mutex), 0, 0)
	start := clock.Now()
	result := C.call2(sym, cond, mutex)
	emit(done, t, addr(cond), addr(mutex), int32(result), clock.Now()-start)
	return result
}

// blocking4 wraps pthread_cond_timedwait's (cond, mutex, timespec*) shape.
func blocking4(sym C.sk_sym, pre, done event.Kind, cond, mutex unsafe.Pointer, ts *C.struct_timespec) C.int {
	if !resolved(sym) {
		return missingResult
	}
	t := tid()
	if guardTable.Enter(t) {
		return C.call4(sym, cond, mutex, ts)
	}
	defer guardTable.Leave(t)
	emit(pre, t, addr(cond), addr(mutex), 0, 0)
	start := clock.Now()
	result := C.call4(sym, cond, mutex, ts)
	emit(done, t, addr(cond), addr(mutex), int32(result), clock.Now()-start)
	return result
}

//export pthread_mutex_init
func pthread_mutex_init(m, attr unsafe.Pointer) C.int {
	return init2(C.symMutexInit, event.MutexInit, m, attr)
}

//export pthread_mutex_destroy
func pthread_mutex_destroy(m unsafe.Pointer) C.int {
	return nonBlocking1(C.symMutexDestroy, event.MutexDestroy, m)
}

//export pthread_mutex_lock
func pthread_mutex_lock(m unsafe.Pointer) C.int {
	return blocking1(C.symMutexLock, event.MutexLock, event.MutexLockDone, m)
}

//export pthread_mutex_trylock
func pthread_mutex_trylock(m unsafe.Pointer) C.int {
	return blocking1(C.symMutexTryLock, event.MutexTryLock, event.MutexTryLockDone, m)
}

//export pthread_mutex_timedlock
func pthread_mutex_timedlock(m unsafe.Pointer, ts *C.struct_timespec) C.int {
	return blocking3(C.symMutexTimedLock, event.MutexTimedLock, event.MutexTimedLockDone, m, ts)
}

// pthread_mutex_unlock logs a single MutexUnlock event after the real
// call, not a pre/Done pair: unlock never blocks, so there is no
// duration worth timing (spec.md's resolved Open Question on this point).
//
//export pthread_mutex_unlock
func pthread_mutex_unlock(m unsafe.Pointer) C.int {
	return nonBlocking1(C.symMutexUnlock, event.MutexUnlock, m)
}

//export pthread_cond_init
func pthread_cond_init(c, attr unsafe.Pointer) C.int {
	return init2(C.symCondInit, event.CondInit, c, attr)
}

//export pthread_cond_destroy
func pthread_cond_destroy(c unsafe.Pointer) C.int {
	return nonBlocking1(C.symCondDestroy, event.CondDestroy, c)
}

//export pthread_cond_signal
func pthread_cond_signal(c unsafe.Pointer) C.int {
	return nonBlocking1(C.symCondSignal, event.CondSignal, c)
}

//export pthread_cond_broadcast
func pthread_cond_broadcast(c unsafe.Pointer) C.int {
	return nonBlocking1(C.symCondBroadcast, event.CondBroadcast, c)
}

//export pthread_cond_wait
func pthread_cond_wait(c, m unsafe.Pointer) C.int {
	return blocking2(C.symCondWait, event.CondWait, event.CondWaitDone, c, m)
}

//export pthread_cond_timedwait
func pthread_cond_timedwait(c, m unsafe.Pointer, ts *C.struct_timespec) C.int {
	return blocking4(C.symCondTimedWait, event.CondTimedWait, event.CondTimedWaitDone, c, m, ts)
}

//export pthread_rwlock_init
func pthread_rwlock_init(rw, attr unsafe.Pointer) C.int {
	return init2(C.symRWLockInit, event.RWLockInit, rw, attr)
}

//export pthread_rwlock_destroy
func pthread_rwlock_destroy(rw unsafe.Pointer) C.int {
	return nonBlocking1(C.symRWLockDestroy, event.RWLockDestroy, rw)
}

//export pthread_rwlock_rdlock
func pthread_rwlock_rdlock(rw unsafe.Pointer) C.int {
	return blocking1(C.symRWLockRDLock, event.RWLockRead, event.RWLockReadDone, rw)
}

//export pthread_rwlock_tryrdlock
func pthread_rwlock_tryrdlock(rw unsafe.Pointer) C.int {
	return blocking1(C.symRWLockTryRDLock, event.RWLockTryRead, event.RWLockTryReadDone, rw)
}

//export pthread_rwlock_timedrdlock
func pthread_rwlock_timedrdlock(rw unsafe.Pointer, ts *C.struct_timespec) C.int {
	return blocking3(C.symRWLockTimedRDLock, event.RWLockTimedRead, event.RWLockTimedReadDone, rw, ts)
}

//export pthread_rwlock_wrlock
func pthread_rwlock_wrlock(rw unsafe.Pointer) C.int {
	return blocking1(C.symRWLockWRLock, event.RWLockWrite, event.RWLockWriteDone, rw)
}

//export pthread_rwlock_trywrlock
func pthread_rwlock_trywrlock(rw unsafe.Pointer) C.int {
	return blocking1(C.symRWLockTryWRLock, event.RWLockTryWrite, event.RWLockTryWriteDone, rw)
}

//export pthread_rwlock_timedwrlock
func pthread_rwlock_timedwrlock(rw unsafe.Pointer, ts *C.struct_timespec) C.int {
	return blocking3(C.symRWLockTimedWRLock, event.RWLockTimedWrite, event.RWLockTimedWriteDone, rw, ts)
}

//export pthread_rwlock_unlock
func pthread_rwlock_unlock(rw unsafe.Pointer) C.int {
	return nonBlocking1(C.symRWLockUnlock, event.RWLockUnlock, rw)
}

// pthread_create logs the address of the thread-handle out-parameter as
// Ptr1: it is the only identity available before the new thread has run
// far enough to call gettid() itself.
//
//export pthread_create
func pthread_create(thread, attr, start, arg unsafe.Pointer) C.int {
	if !resolved(C.symThreadCreate) {
		return missingResult
	}
	t := tid()
	if guardTable.Enter(t) {
		return C.call_thread_create(thread, attr, start, arg)
	}
	defer guardTable.Leave(t)
	result := C.call_thread_create(thread, attr, start, arg)
	emit(event.ThreadCreate, t, addr(thread), 0, int32(result), 0)
	return result
}

// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux || !cgo

// This build lacks either Linux's pthread ABI or cgo itself, so there is
// nothing to interpose: the package still builds (matching
// acln.ro/perf's perf_generic.go fallback, which does the analogous
// thing for non-amd64 targets) but exports nothing, and a library built
// from it preloads into a process without intercepting any call.
package main

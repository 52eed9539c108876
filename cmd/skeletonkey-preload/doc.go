// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command skeletonkey-preload is the interposition shim of spec.md §4.5.
// It is not run directly; it is built as a C shared library and preloaded
// into a target process:
//
//	go build -buildmode=c-shared -o libskeletonkey.so ./cmd/skeletonkey-preload
//	SKELETON_KEYOUTPUT=/tmp/mytrace.bin LD_PRELOAD=./libskeletonkey.so ./target
//
// The package exports one C-ABI function per wrapped pthread entry point.
// main itself is unused at runtime (-buildmode=c-shared still requires a
// package main with a main func) and intentionally does nothing.
package main

func main() {}

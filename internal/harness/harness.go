// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package harness drives the C fixtures under testdata/fixtures through
// the skeletonkey-preload shim for end-to-end tests. It is
// infrastructure for running the examples, not an analysis tool: it
// builds the shared library, compiles and runs one fixture against it,
// and hands back the resulting trace file, the way acln.ro/perf's
// exec.go command() helper runs a traced child and hands back counters.
package harness

import (
	"context"
	"fmt"
	"go/build"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// Unavailable, if non-nil, explains why Run cannot be used in this test
// environment. It is re-evaluated on every call; callers should check it
// with a t.Skip, mirroring perf_test.go's requires(t, ...) pattern.
func Unavailable() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("harness: requires linux, running on %s", runtime.GOOS)
	}
	if !build.Default.CgoEnabled {
		return fmt.Errorf("harness: requires cgo, CGO_ENABLED=0")
	}
	if _, err := exec.LookPath("cc"); err != nil {
		if _, err := exec.LookPath("gcc"); err != nil {
			return fmt.Errorf("harness: no C compiler (cc or gcc) on PATH")
		}
	}
	if _, err := exec.LookPath("go"); err != nil {
		return fmt.Errorf("harness: no go toolchain on PATH")
	}
	return nil
}

func cc() string {
	if _, err := exec.LookPath("cc"); err == nil {
		return "cc"
	}
	return "gcc"
}

// Result is what one fixture run produced.
type Result struct {
	TracePath string
	Stdout    string
	ExitErr   error
}

// Run builds the shim as a shared library in a temp directory, compiles
// fixturePath against it, and executes the resulting binary with
// SKELETON_KEYOUTPUT pointed at a fresh trace file, waiting for it to
// exit normally.
func Run(dir, fixturePath, preloadPkg string) (*Result, error) {
	return RunTimeout(dir, fixturePath, preloadPkg, 0)
}

// RunTimeout is Run, but the fixture process is killed (SIGKILL) after
// timeout if it is still running. A zero timeout means wait indefinitely.
// This is how the deadlock fixture, which never exits on its own, is
// driven: the caller accepts the kill and inspects whatever the writer
// managed to flush beforehand (property P7).
func RunTimeout(dir, fixturePath, preloadPkg string, timeout time.Duration) (*Result, error) {
	lib := filepath.Join(dir, "libskeletonkey.so")
	build := exec.Command("go", "build", "-buildmode=c-shared", "-o", lib, preloadPkg)
	// No build.Dir: dir is a bare t.TempDir() with no go.mod anywhere up
	// its path, which would make module mode fail to find the main
	// module. lib is already absolute, so letting the build inherit the
	// test's own CWD (inside this module) is both sufficient and correct.
	if out, err := build.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("harness: building shim: %v: %s", err, out)
	}

	bin := filepath.Join(dir, "fixture")
	compile := exec.Command(cc(), "-pthread", "-o", bin, fixturePath)
	if out, err := compile.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("harness: compiling fixture: %v: %s", err, out)
	}

	trace := filepath.Join(dir, "trace.bin")

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	run := exec.CommandContext(ctx, bin)
	run.Env = append(os.Environ(),
		"LD_PRELOAD="+lib,
		"SKELETON_KEYOUTPUT="+trace,
	)

	out, runErr := run.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		// The process was killed by CommandContext on timeout; that is
		// the expected outcome for a fixture that deadlocks by
		// construction, not a harness failure.
		runErr = nil
	}
	return &Result{
		TracePath: trace,
		Stdout:    string(out),
		ExitErr:   runErr,
	}, nil
}

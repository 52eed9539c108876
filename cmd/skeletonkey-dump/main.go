// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command skeletonkey-dump decodes a skeletonkey trace file to a
// human-readable listing on stdout. Usage and error-reporting style
// follow cstockton/go-trace's cmd/tracecat and cmd/tracegrep: a single
// positional argument, diagnostics to stderr, exit status 1 on failure.
//
//	skeletonkey-dump trace.bin
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	"skeletonkey.dev/skeletonkey/event"
	"skeletonkey.dev/skeletonkey/wire"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <trace-file>\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if err := dump(os.Stdout, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "skeletonkey-dump: %v\n", err)
		os.Exit(1)
	}
}

func dump(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(out)
	defer w.Flush()

	dec := wire.NewDecoder(f)
	var first uint64
	seenFirst := false

	for dec.More() {
		evt, err := dec.Decode()
		if err != nil {
			break
		}
		if !seenFirst {
			first = evt.Timestamp
			seenFirst = true
		}
		writeLine(w, evt, first)
	}

	if err := dec.Err(); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if dec.LastWasTruncated() {
		fmt.Fprintln(w, "# trace ends mid-record (target likely killed mid-write)")
	}
	return nil
}

func writeLine(w io.Writer, evt *event.Event, first uint64) {
	secs := float64(evt.Timestamp-first) / 1e9
	fmt.Fprintf(w, "%12.6f tid=%-8d %-20s ptr=%#x", secs, evt.TID, evt.Kind, evt.Ptr1)

	if evt.Ptr2 != 0 {
		fmt.Fprintf(w, " aux_ptr=%#x", evt.Ptr2)
	}
	// result and duration are omitted when zero, matching reader.cpp's
	// `if (result != 0)` / `if (duration > 0)` gates rather than the
	// event's Kind: a successful call (result==0) or an instantaneous
	// one (duration==0) carries nothing worth printing either way.
	if evt.DurationNS != 0 {
		fmt.Fprintf(w, " duration=%.6fs", float64(evt.DurationNS)/1e9)
	}
	if evt.Result != 0 {
		fmt.Fprintf(w, " result=%d", evt.Result)
	}
	fmt.Fprintln(w)

	if len(evt.Stack) > 0 {
		fmt.Fprintln(w, "    Stack trace:")
		for _, pc := range evt.Stack {
			fmt.Fprintf(w, "        0x%014x\n", pc)
		}
	}
}

// Copyright 2019 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package clock_test

import (
	"testing"

	"skeletonkey.dev/skeletonkey/internal/clock"
)

// TestMonotonic is property P4's foundation: sequential reads never go
// backwards.
func TestMonotonic(t *testing.T) {
	prev := clock.Now()
	for i := 0; i < 1000; i++ {
		cur := clock.Now()
		if cur < prev {
			t.Fatalf("clock went backwards: %d then %d", prev, cur)
		}
		prev = cur
	}
}

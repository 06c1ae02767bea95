// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build invariants || race

package invariants

import "fmt"

// Enabled is true if we were built with the "invariants" or "race" build tags.
const Enabled = true

// CloseChecker panics when the DB or file that embeds it is closed twice.
type CloseChecker struct {
	closed bool
}

// Close records the close and panics on the second call.
func (d *CloseChecker) Close() {
	if d.closed {
		panic("slotdb: double close")
	}
	d.closed = true
}

// SafeSub returns a - b. Shared slot reference counts use it; an underflow
// means a slot was released more often than it was acquired.
func SafeSub[T Integer](a, b T) T {
	if a < b {
		panic(fmt.Sprintf("slotdb: underflow: %d - %d", a, b))
	}
	return a - b
}

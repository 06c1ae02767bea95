// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build !invariants && !race

package invariants

// Enabled is true if we were built with the "invariants" or "race" build tags.
const Enabled = false

// CloseChecker is empty and does nothing in non-invariant builds.
type CloseChecker struct{}

// Close does nothing in non-invariant builds.
func (d *CloseChecker) Close() {}

// SafeSub returns a - b, or 0 if a < b.
func SafeSub[T Integer](a, b T) T {
	if a < b {
		return 0
	}
	return a - b
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package activation defines the depth policies that bound how far an
// activation, deactivation, refresh or peek walks an object graph.
package activation

import "github.com/cockroachdb/redact"

// Mode selects the kind of walk a Depth drives.
type Mode uint8

const (
	// Activate populates fields from stored slots.
	Activate Mode = iota
	// Deactivate clears fields back to their zero values.
	Deactivate
	// Refresh re-reads fields of objects that are already active.
	Refresh
	// Peek reads detached copies without touching the reference system.
	Peek
)

// SafeFormat implements redact.SafeFormatter.
func (m Mode) SafeFormat(w redact.SafePrinter, _ rune) {
	switch m {
	case Activate:
		w.SafeString("activate")
	case Deactivate:
		w.SafeString("deactivate")
	case Refresh:
		w.SafeString("refresh")
	case Peek:
		w.SafeString("peek")
	default:
		w.Printf("mode(%d)", redact.SafeUint(m))
	}
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	return redact.StringWithoutMarkers(m)
}

// IsActivate returns true for the modes that populate fields.
func (m Mode) IsActivate() bool {
	return m == Activate || m == Refresh || m == Peek
}

// Class is the per-class configuration a Depth consults when it descends
// into the fields of an instance.
type Class interface {
	// AdjustActivationDepth applies the class's cascade and minimum/maximum
	// activation depth settings to depth.
	AdjustActivationDepth(depth int) int
	// IsValueType returns true if instances are stored embedded in their
	// parent; those are always activated at least one level deep.
	IsValueType() bool
}

// Depth decides whether an object must be processed and how deep its
// children are processed.
type Depth interface {
	// RequiresActivation returns true if the object at this depth is
	// processed.
	RequiresActivation() bool
	// Descend returns the depth for the children of an instance of class.
	// class may be nil for objects whose class is unknown.
	Descend(class Class) Depth
	// Mode returns the kind of walk.
	Mode() Mode
}

// Fixed processes a fixed number of levels regardless of class settings.
type Fixed struct {
	depth int
	mode  Mode
}

var _ Depth = Fixed{}

// MakeFixed returns a policy processing depth levels.
func MakeFixed(depth int, mode Mode) Fixed {
	return Fixed{depth: depth, mode: mode}
}

// RequiresActivation implements Depth.
func (d Fixed) RequiresActivation() bool { return d.depth > 0 }

// Descend implements Depth.
func (d Fixed) Descend(Class) Depth { return Fixed{depth: d.depth - 1, mode: d.mode} }

// Mode implements Depth.
func (d Fixed) Mode() Mode { return d.mode }

// Full processes the whole reachable graph.
type Full struct {
	mode Mode
}

var _ Depth = Full{}

// MakeFull returns a policy without a depth limit.
func MakeFull(mode Mode) Full { return Full{mode: mode} }

// RequiresActivation implements Depth.
func (d Full) RequiresActivation() bool { return true }

// Descend implements Depth.
func (d Full) Descend(Class) Depth { return d }

// Mode implements Depth.
func (d Full) Mode() Mode { return d.mode }

// NonDescending never processes anything. It is handed to objects that are
// instantiated but must stay inactive.
type NonDescending struct {
	mode Mode
}

var _ Depth = NonDescending{}

// MakeNonDescending returns a policy that processes nothing.
func MakeNonDescending(mode Mode) NonDescending { return NonDescending{mode: mode} }

// RequiresActivation implements Depth.
func (d NonDescending) RequiresActivation() bool { return false }

// Descend implements Depth.
func (d NonDescending) Descend(Class) Depth { return d }

// Mode implements Depth.
func (d NonDescending) Mode() Mode { return d.mode }

// Legacy is the default policy: a remaining level count that each class may
// raise or lower while descending.
type Legacy struct {
	depth int
	mode  Mode
}

var _ Depth = Legacy{}

// MakeLegacy returns a policy with depth remaining levels.
func MakeLegacy(depth int, mode Mode) Legacy {
	return Legacy{depth: depth, mode: mode}
}

// Remaining returns the number of levels left.
func (d Legacy) Remaining() int { return d.depth }

// RequiresActivation implements Depth.
func (d Legacy) RequiresActivation() bool { return d.depth > 0 }

// Descend implements Depth.
func (d Legacy) Descend(class Class) Depth {
	if class == nil {
		return Legacy{depth: d.depth - 1, mode: d.mode}
	}
	depth := d.depth
	if d.mode.IsActivate() {
		depth = class.AdjustActivationDepth(depth)
	}
	depth--
	if class.IsValueType() {
		depth = max(1, depth)
	}
	return Legacy{depth: depth, mode: d.mode}
}

// Mode implements Depth.
func (d Legacy) Mode() Mode { return d.mode }

// For returns the depth used when an instance of class is read or activated
// without an explicit depth. global is the container wide default.
func For(class Class, global int, mode Mode) Depth {
	depth := global
	if class != nil && mode.IsActivate() {
		depth = class.AdjustActivationDepth(depth)
	}
	return Legacy{depth: depth, mode: mode}
}

// Bounds holds the class settings applied by AdjustActivationDepth.
type Bounds struct {
	// Cascade activates instances at least two levels deep so that their
	// direct children are populated too.
	Cascade bool
	// Minimum and Maximum clamp the depth when non-zero.
	Minimum int
	Maximum int
}

// Adjust applies the bounds to depth.
func (b Bounds) Adjust(depth int) int {
	if b.Cascade && depth < 2 {
		depth = 2
	}
	if b.Minimum != 0 && depth < b.Minimum {
		depth = b.Minimum
	}
	if b.Maximum != 0 && depth > b.Maximum {
		depth = b.Maximum
	}
	return depth
}

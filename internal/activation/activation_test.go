// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package activation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testClass struct {
	bounds    Bounds
	valueType bool
}

func (c testClass) AdjustActivationDepth(depth int) int { return c.bounds.Adjust(depth) }
func (c testClass) IsValueType() bool                   { return c.valueType }

func levels(d Depth, class Class) int {
	n := 0
	for d.RequiresActivation() && n < 100 {
		n++
		d = d.Descend(class)
	}
	return n
}

func TestFixed(t *testing.T) {
	d := MakeFixed(3, Deactivate)
	require.Equal(t, 3, levels(d, testClass{bounds: Bounds{Minimum: 10}}))
	require.Equal(t, Deactivate, d.Descend(nil).Mode())
	require.False(t, MakeFixed(0, Activate).RequiresActivation())
}

func TestFullAndNonDescending(t *testing.T) {
	require.Equal(t, 100, levels(MakeFull(Activate), nil))
	require.Equal(t, 0, levels(MakeNonDescending(Activate), nil))
	require.Equal(t, Refresh, MakeFull(Refresh).Descend(nil).Mode())
}

func TestLegacy(t *testing.T) {
	require.Equal(t, 5, levels(MakeLegacy(5, Activate), nil))
	require.Equal(t, 5, levels(MakeLegacy(5, Activate), testClass{}))

	// Cascading classes always populate their children.
	cascade := testClass{bounds: Bounds{Cascade: true}}
	require.Equal(t, 1, MakeLegacy(1, Activate).Descend(cascade).(Legacy).Remaining())
	require.Equal(t, 100, levels(MakeLegacy(1, Activate), cascade))

	// Deactivation ignores class settings.
	require.Equal(t, 1, levels(MakeLegacy(1, Deactivate), cascade))

	bounded := testClass{bounds: Bounds{Maximum: 2}}
	require.Equal(t, 1, MakeLegacy(9, Activate).Descend(bounded).(Legacy).Remaining())

	value := testClass{valueType: true}
	require.Equal(t, 1, MakeLegacy(1, Activate).Descend(value).(Legacy).Remaining())
}

func TestFor(t *testing.T) {
	d := For(testClass{bounds: Bounds{Minimum: 7}}, 5, Activate)
	require.Equal(t, 7, d.(Legacy).Remaining())
	d = For(testClass{bounds: Bounds{Minimum: 7}}, 5, Deactivate)
	require.Equal(t, 5, d.(Legacy).Remaining())
	require.Equal(t, 5, For(nil, 5, Peek).(Legacy).Remaining())
}

func TestBounds(t *testing.T) {
	require.Equal(t, 2, Bounds{Cascade: true}.Adjust(0))
	require.Equal(t, 4, Bounds{Cascade: true}.Adjust(4))
	require.Equal(t, 3, Bounds{Minimum: 3}.Adjust(1))
	require.Equal(t, 3, Bounds{Maximum: 3}.Adjust(8))
	require.Equal(t, 8, Bounds{}.Adjust(8))
}

func TestModeString(t *testing.T) {
	require.Equal(t, "activate", Activate.String())
	require.Equal(t, "peek", Peek.String())
	require.Equal(t, "mode(9)", Mode(9).String())
	require.True(t, Refresh.IsActivate())
	require.False(t, Deactivate.IsActivate())
}

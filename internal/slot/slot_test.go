// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slot

import (
	"testing"

	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/stretchr/testify/require"
)

func TestBlocks(t *testing.T) {
	_, err := MakeBlocks(0)
	require.Error(t, err)
	_, err = MakeBlocks(128)
	require.Error(t, err)

	b, err := MakeBlocks(8)
	require.NoError(t, err)
	require.Equal(t, int32(0), b.BytesToBlocks(0))
	require.Equal(t, int32(1), b.BytesToBlocks(1))
	require.Equal(t, int32(1), b.BytesToBlocks(8))
	require.Equal(t, int32(2), b.BytesToBlocks(9))
	require.Equal(t, int64(16), b.BlockAlignedBytes(9))

	s := Slot{Address: 10, Length: 17}
	blocked := b.ToBlocked(s)
	require.Equal(t, Slot{Address: 10, Length: 3}, blocked)
	require.Equal(t, Slot{Address: 10, Length: 24}, b.ToNonBlocked(blocked))
	require.Equal(t, int64(80), b.Offset(10))

	one, err := MakeBlocks(1)
	require.NoError(t, err)
	require.Equal(t, int32(13), one.BytesToBlocks(13))
	require.Equal(t, s, one.ToBlocked(s))
}

func TestPointerCodec(t *testing.T) {
	var buf [PointerLength]byte
	s := Slot{Address: 0x01020304, Length: 0x0a0b0c0d}
	EncodePointer(buf[:], s)
	require.Equal(t, []byte{1, 2, 3, 4, 0x0a, 0x0b, 0x0c, 0x0d}, buf[:])
	require.Equal(t, s, DecodePointer(buf[:]))
	require.Equal(t, "7->[16909060,168496141]", Pointer{ID: 7, Slot: s}.String())
}

func TestCheck(t *testing.T) {
	b, err := MakeBlocks(8)
	require.NoError(t, err)
	const fileLength = 1024

	require.NoError(t, b.CheckID(10, fileLength))
	require.True(t, base.IsCorruptionError(b.CheckID(0, fileLength)))
	require.True(t, base.IsCorruptionError(b.CheckID(128, fileLength)))

	require.NoError(t, b.CheckSlot(10, Zero, fileLength))
	require.NoError(t, b.CheckSlot(10, Slot{Address: 100, Length: 224}, fileLength))
	for _, s := range []Slot{
		{Address: 100, Length: 225},
		{Address: 129, Length: 1},
		{Address: -1, Length: 8},
		{Address: 5, Length: -8},
	} {
		err := b.CheckSlot(10, s, fileLength)
		require.Error(t, err, "%s", s)
		require.True(t, base.IsCorruptionError(err))
	}
}

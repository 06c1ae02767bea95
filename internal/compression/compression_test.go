// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundtrip(t *testing.T) {
	defer leaktest.AfterTest(t)()

	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, seed))

	for a := NoCompression; a < numAlgorithms; a++ {
		t.Run(a.String(), func(t *testing.T) {
			payload := make([]byte, 1+rng.IntN(10<<10 /* 10 KiB */))
			for i := range payload {
				payload[i] = byte(rng.Uint32())
			}
			// Create a randomly-sized buffer to house the compressed output. If it's
			// not sufficient, Compress should allocate one that is.
			compressedBuf := make([]byte, 1+rng.IntN(1<<10 /* 1 KiB */))
			compressor := GetCompressor(a)
			defer compressor.Close()
			compressed := compressor.Compress(compressedBuf, payload)
			got, err := Decompress(a, compressed)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		})
	}
}

func TestCompressFallsBack(t *testing.T) {
	compressible := bytes.Repeat([]byte("slotdb "), 200)
	for a := Snappy; a < numAlgorithms; a++ {
		out, used := Compress(a, nil, compressible)
		require.Equal(t, a, used)
		require.Less(t, len(out), len(compressible))
		got, err := Decompress(used, out)
		require.NoError(t, err)
		require.Equal(t, compressible, got)
	}

	// Tiny inputs do not shrink and are stored verbatim.
	out, used := Compress(Zstd, nil, []byte{7})
	require.Equal(t, NoCompression, used)
	require.Equal(t, []byte{7}, out)

	out, used = Compress(Snappy, nil, nil)
	require.Equal(t, NoCompression, used)
	require.Empty(t, out)
}

// TestDecompressionError tests that a decompressing a value that does not
// decompress returns an error.
func TestDecompressionError(t *testing.T) {
	defer leaktest.AfterTest(t)()

	// A faux zstd block: a plausible length prefix followed by garbage.
	fauxCompressed := binary.AppendUvarint(nil, 100)
	fauxCompressed = append(fauxCompressed, bytes.Repeat([]byte{0xff}, 50)...)
	v, err := Decompress(Zstd, fauxCompressed)
	t.Log(err)
	require.Error(t, err)
	require.True(t, base.IsCorruptionError(err))
	require.Nil(t, v)

	_, err = Decompress(Zstd, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	require.True(t, base.IsCorruptionError(err))

	_, err = Decompress(Algorithm(42), nil)
	require.True(t, base.IsCorruptionError(err))
}

func TestParseAlgorithm(t *testing.T) {
	for a := NoCompression; a < numAlgorithms; a++ {
		got, err := ParseAlgorithm(a.String())
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
	got, err := ParseAlgorithm("ZSTD")
	require.NoError(t, err)
	require.Equal(t, Zstd, got)
	_, err = ParseAlgorithm("lz4")
	require.Error(t, err)
	require.Equal(t, "unknown(9)", fmt.Sprint(Algorithm(9)))
	require.False(t, Algorithm(9).Valid())
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compression wraps the block codecs available for object slot
// payloads.
package compression

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/slotdb/internal/base"
)

// Algorithm identifies a codec. The value is persisted in slot frames.
type Algorithm uint8

const (
	// NoCompression stores payloads verbatim.
	NoCompression Algorithm = iota
	Snappy
	Zstd
	S2
	MinLZ
	numAlgorithms
)

var algorithmNames = [numAlgorithms]string{
	NoCompression: "none",
	Snappy:        "snappy",
	Zstd:          "zstd",
	S2:            "s2",
	MinLZ:         "minlz",
}

// SafeFormat implements redact.SafeFormatter.
func (a Algorithm) SafeFormat(w redact.SafePrinter, _ rune) {
	if a < numAlgorithms {
		w.SafeString(redact.SafeString(algorithmNames[a]))
		return
	}
	w.Printf("unknown(%d)", redact.SafeUint(a))
}

// String implements fmt.Stringer.
func (a Algorithm) String() string {
	return redact.StringWithoutMarkers(a)
}

// Valid returns true if a names a known codec.
func (a Algorithm) Valid() bool {
	return a < numAlgorithms
}

// ParseAlgorithm is the inverse of Algorithm.String.
func ParseAlgorithm(s string) (Algorithm, error) {
	for a, name := range algorithmNames {
		if strings.EqualFold(s, name) {
			return Algorithm(a), nil
		}
	}
	return 0, errors.Errorf("slotdb: unknown compression %q", errors.Safe(s))
}

// Compressor compresses blocks.
type Compressor interface {
	// Compress appends the compressed form of src to dst[:0] and returns it.
	Compress(dst, src []byte) []byte
	// Close releases the compressor.
	Close()
}

// Decompressor decompresses blocks.
type Decompressor interface {
	// DecompressInto decompresses src into dst, which must be exactly
	// DecompressedLen(src) bytes long.
	DecompressInto(dst, src []byte) error
	// DecompressedLen returns the length of the decompressed form of b.
	DecompressedLen(b []byte) (int, error)
	// Close releases the decompressor.
	Close()
}

// zstdLevel is the zstd compression level used for slot payloads.
const zstdLevel = 3

// GetCompressor returns a compressor for a. Close must be called on it once
// it is no longer needed.
func GetCompressor(a Algorithm) Compressor {
	switch a {
	case NoCompression:
		return noopCompressor{}
	case Snappy:
		return snappyCompressor{}
	case Zstd:
		return getZstdCompressor(zstdLevel)
	case S2:
		return s2Compressor{}
	case MinLZ:
		return minlzCompressorFastest
	default:
		panic(errors.AssertionFailedf("slotdb: unknown compression %d", a))
	}
}

// GetDecompressor returns a decompressor for a.
func GetDecompressor(a Algorithm) (Decompressor, error) {
	switch a {
	case NoCompression:
		return noopDecompressor{}, nil
	case Snappy:
		return snappyDecompressor{}, nil
	case Zstd:
		return getZstdDecompressor(), nil
	case S2:
		return s2Decompressor{}, nil
	case MinLZ:
		return minlzDecompressor{}, nil
	default:
		return nil, base.CorruptionErrorf("slotdb: unknown compression %d", errors.Safe(a))
	}
}

// Compress compresses src with a. If the result is not smaller than src the
// payload is stored verbatim and NoCompression is returned instead of a.
func Compress(a Algorithm, dst, src []byte) ([]byte, Algorithm) {
	if a == NoCompression || len(src) == 0 {
		return append(dst[:0], src...), NoCompression
	}
	c := GetCompressor(a)
	defer c.Close()
	out := c.Compress(dst, src)
	if len(out) >= len(src) {
		return append(out[:0], src...), NoCompression
	}
	return out, a
}

// Decompress returns the decompressed form of src.
func Decompress(a Algorithm, src []byte) ([]byte, error) {
	d, err := GetDecompressor(a)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	n, err := d.DecompressedLen(src)
	if err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	if n < 0 || n > maxDecompressedLen {
		return nil, base.CorruptionErrorf("slotdb: implausible decompressed length %d", errors.Safe(n))
	}
	dst := make([]byte, n)
	if err := d.DecompressInto(dst, src); err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	return dst, nil
}

// maxDecompressedLen bounds allocations driven by a corrupt length prefix.
const maxDecompressedLen = 1 << 30

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
)

type snappyCompressor struct{}

var _ Compressor = snappyCompressor{}

func (snappyCompressor) Compress(dst, src []byte) []byte {
	dst = dst[:cap(dst):cap(dst)]
	return snappy.Encode(dst, src)
}

func (snappyCompressor) Close() {}

type snappyDecompressor struct{}

var _ Decompressor = snappyDecompressor{}

func (snappyDecompressor) DecompressInto(buf, compressed []byte) error {
	result, err := snappy.Decode(buf, compressed)
	if err != nil {
		return err
	}
	return checkInPlace(result, buf)
}

func (snappyDecompressor) DecompressedLen(b []byte) (int, error) {
	return snappy.DecodedLen(b)
}

func (snappyDecompressor) Close() {}

type s2Compressor struct{}

var _ Compressor = s2Compressor{}

func (s2Compressor) Compress(dst, src []byte) []byte {
	dst = dst[:cap(dst):cap(dst)]
	return s2.Encode(dst, src)
}

func (s2Compressor) Close() {}

type s2Decompressor struct{}

var _ Decompressor = s2Decompressor{}

func (s2Decompressor) DecompressInto(buf, compressed []byte) error {
	result, err := s2.Decode(buf, compressed)
	if err != nil {
		return err
	}
	return checkInPlace(result, buf)
}

func (s2Decompressor) DecompressedLen(b []byte) (int, error) {
	return s2.DecodedLen(b)
}

func (s2Decompressor) Close() {}

func checkInPlace(result, buf []byte) error {
	if len(result) != len(buf) || (len(result) > 0 && &result[0] != &buf[0]) {
		return base.CorruptionErrorf("slotdb: decompressed into unexpected buffer: %p != %p",
			errors.Safe(result), errors.Safe(buf))
	}
	return nil
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package marshal

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/compression"
)

// FrameHeaderLen is the fixed part of a frame: class ID, codec and checksum.
const FrameHeaderLen = 4 + 1 + 4

// Frame is a decoded object slot:
//
//	classID int32 | codec byte | checksum uint32 | uvarint length | stored bytes
//
// The checksum covers the stored (possibly compressed) bytes.
type Frame struct {
	ClassID     int32
	Compression compression.Algorithm
	Checksum    uint32
	Stored      []byte
}

func checksum(b []byte) uint32 {
	return uint32(xxhash.Sum64(b))
}

// AppendFrame compresses payload with a and appends the framed result to
// dst. Payloads that do not shrink are stored uncompressed.
func AppendFrame(dst []byte, classID int32, a compression.Algorithm, payload []byte) []byte {
	stored, used := compression.Compress(a, nil, payload)
	dst = binary.BigEndian.AppendUint32(dst, uint32(classID))
	dst = append(dst, byte(used))
	dst = binary.BigEndian.AppendUint32(dst, checksum(stored))
	dst = binary.AppendUvarint(dst, uint64(len(stored)))
	return append(dst, stored...)
}

// DecodeFrame parses and verifies a frame. buf may extend past the frame.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) < FrameHeaderLen+1 {
		return Frame{}, base.CorruptionErrorf("slotdb: object slot too short (%d bytes)", errors.Safe(len(buf)))
	}
	f := Frame{
		ClassID:     int32(binary.BigEndian.Uint32(buf[0:])),
		Compression: compression.Algorithm(buf[4]),
		Checksum:    binary.BigEndian.Uint32(buf[5:]),
	}
	if !f.Compression.Valid() {
		return Frame{}, base.CorruptionErrorf("slotdb: object slot has unknown codec %d", errors.Safe(buf[4]))
	}
	n, k := binary.Uvarint(buf[FrameHeaderLen:])
	if k <= 0 || n > uint64(len(buf)-FrameHeaderLen-k) {
		return Frame{}, base.CorruptionErrorf("slotdb: object slot has invalid length")
	}
	off := FrameHeaderLen + k
	f.Stored = buf[off : off+int(n)]
	if got := checksum(f.Stored); got != f.Checksum {
		return Frame{}, base.CorruptionErrorf("slotdb: object slot checksum mismatch: stored %08x, computed %08x",
			errors.Safe(f.Checksum), errors.Safe(got))
	}
	return f, nil
}

// Payload returns the decompressed payload.
func (f Frame) Payload() ([]byte, error) {
	if f.Compression == compression.NoCompression {
		return f.Stored, nil
	}
	return compression.Decompress(f.Compression, f.Stored)
}

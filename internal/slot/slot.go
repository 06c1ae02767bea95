// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package slot defines the addressing units of a slotdb file: slots
// (block-aligned regions) and pointers (the ID to slot binding stored in the
// file).
package slot

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/slotdb/internal/base"
)

const (
	// IntLength is the encoded size of an int32.
	IntLength = 4
	// PointerLength is the encoded size of a pointer record: address and
	// length, both big-endian int32.
	PointerLength = 2 * IntLength
	// MaxBlockSize is the largest supported block size.
	MaxBlockSize = 127
)

// Slot is a region of the file. Address is expressed in blocks. Length is
// expressed in bytes unless the slot was produced by ToBlocked, in which case
// it is expressed in blocks.
type Slot struct {
	Address int32
	Length  int32
}

// Zero is the null slot.
var Zero = Slot{}

// IsNull returns true if the slot does not address any storage.
func (s Slot) IsNull() bool {
	return s.Address == 0
}

// SafeFormat implements redact.SafeFormatter.
func (s Slot) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[%d,%d]", s.Address, s.Length)
}

// String implements fmt.Stringer.
func (s Slot) String() string {
	return redact.StringWithoutMarkers(s)
}

// Pointer binds an ID to the slot that holds the object's current version.
type Pointer struct {
	ID   int32
	Slot Slot
}

// SafeFormat implements redact.SafeFormatter.
func (p Pointer) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d->%s", p.ID, p.Slot)
}

// String implements fmt.Stringer.
func (p Pointer) String() string {
	return redact.StringWithoutMarkers(p)
}

// Blocks converts between byte and block units for a fixed block size.
type Blocks struct {
	size int32
}

// MakeBlocks returns the converter for the given block size.
func MakeBlocks(blockSize int) (Blocks, error) {
	if blockSize < 1 || blockSize > MaxBlockSize {
		return Blocks{}, errors.Newf("slotdb: block size %d out of range [1,%d]",
			errors.Safe(blockSize), errors.Safe(MaxBlockSize))
	}
	return Blocks{size: int32(blockSize)}, nil
}

// Size returns the block size in bytes.
func (b Blocks) Size() int32 {
	return b.size
}

// BytesToBlocks rounds a byte count up to a whole number of blocks.
func (b Blocks) BytesToBlocks(bytes int64) int32 {
	if b.size == 1 {
		return int32(bytes)
	}
	return int32((bytes + int64(b.size) - 1) / int64(b.size))
}

// BlocksToBytes converts a block count to bytes.
func (b Blocks) BlocksToBytes(blocks int32) int64 {
	return int64(blocks) * int64(b.size)
}

// BlockAlignedBytes rounds a byte count up to the next block boundary.
func (b Blocks) BlockAlignedBytes(bytes int64) int64 {
	return b.BlocksToBytes(b.BytesToBlocks(bytes))
}

// ToBlocked converts the length of a byte-expressed slot to blocks.
func (b Blocks) ToBlocked(s Slot) Slot {
	return Slot{Address: s.Address, Length: b.BytesToBlocks(int64(s.Length))}
}

// ToNonBlocked converts the length of a block-expressed slot to bytes.
func (b Blocks) ToNonBlocked(s Slot) Slot {
	return Slot{Address: s.Address, Length: int32(b.BlocksToBytes(s.Length))}
}

// Offset returns the byte offset of a block address.
func (b Blocks) Offset(address int32) int64 {
	return int64(address) * int64(b.size)
}

// EncodePointer writes the pointer record for s into buf, which must be at
// least PointerLength bytes.
func EncodePointer(buf []byte, s Slot) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(s.Address))
	binary.BigEndian.PutUint32(buf[4:8], uint32(s.Length))
}

// DecodePointer reads a pointer record.
func DecodePointer(buf []byte) Slot {
	return Slot{
		Address: int32(binary.BigEndian.Uint32(buf[0:4])),
		Length:  int32(binary.BigEndian.Uint32(buf[4:8])),
	}
}

// CheckID verifies that the pointer record of id lies inside a file of the
// given length.
func (b Blocks) CheckID(id int32, fileLength int64) error {
	if id <= 0 || b.Offset(id)+PointerLength > fileLength {
		return base.NewInvalidIDError(id, fileLength)
	}
	return nil
}

// CheckSlot verifies a decoded pointer value against the file length. The
// null slot is valid and denotes a deleted object.
func (b Blocks) CheckSlot(id int32, s Slot, fileLength int64) error {
	if s.Address == 0 && s.Length == 0 {
		return nil
	}
	if s.Address <= 0 || s.Length < 0 {
		return base.NewInvalidSlotError(id, s.Address, s.Length, fileLength)
	}
	start := b.Offset(s.Address)
	if start > fileLength || int64(s.Length) > fileLength || start+int64(s.Length) > fileLength {
		return base.NewInvalidSlotError(id, s.Address, s.Length, fileLength)
	}
	return nil
}

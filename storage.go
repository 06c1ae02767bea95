// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/ledger"
	"github.com/cockroachdb/slotdb/internal/marshal"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/slotdb/vfs"
)

// The methods in this file address the file in slots and pointers. All of
// them require d.mu to be held.

// getSlot returns a slot of n bytes, reusing free space when the allocator
// has a large enough run and growing the file otherwise. The returned slot
// length is in bytes.
func (d *DB) getSlot(n int) slot.Slot {
	blocks := d.blocks.BytesToBlocks(int64(n))
	d.mu.metrics.slotsAllocated++
	if s, ok := d.mu.freespace.GetSlot(blocks); ok {
		return slot.Slot{Address: s.Address, Length: int32(n)}
	}
	return d.appendSlot(n)
}

// appendSlot grows the file by the blocks needed for n bytes, bypassing the
// allocator.
func (d *DB) appendSlot(n int) slot.Slot {
	addr := int32(d.mu.fileLen / int64(d.blocks.Size()))
	grow := d.blocks.BlockAlignedBytes(int64(n))
	d.mu.fileLen += grow
	d.mu.metrics.bytesAppended += grow
	return slot.Slot{Address: addr, Length: int32(n)}
}

// free hands a byte-length slot back to the allocator.
func (d *DB) free(s slot.Slot) {
	if s.IsNull() {
		return
	}
	d.mu.metrics.slotsFreed++
	d.mu.freespace.Free(d.blocks.ToBlocked(s))
}

// slotFreer adapts DB to ledger.Freer.
type slotFreer DB

var _ ledger.Freer = (*slotFreer)(nil)

func (f *slotFreer) Free(s slot.Slot) {
	(*DB)(f).free(s)
}

// newID allocates a pointer slot and initializes it to the null slot. The
// ID is the block address of the pointer slot.
func (d *DB) newID() (int32, error) {
	s := d.getSlot(slot.PointerLength)
	if err := d.writePointer(s.Address, slot.Zero); err != nil {
		d.free(s)
		return 0, err
	}
	return s.Address, nil
}

// readPointer reads and validates the committed pointer of id.
func (d *DB) readPointer(id int32) (slot.Slot, error) {
	if err := d.blocks.CheckID(id, d.mu.fileLen); err != nil {
		return slot.Zero, err
	}
	var buf [slot.PointerLength]byte
	if err := vfs.ReadFull(d.file, buf[:], d.blocks.Offset(id)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return slot.Zero, base.NewInvalidIDError(id, d.mu.fileLen)
		}
		return slot.Zero, errors.Wrapf(err, "slotdb: reading pointer %d", errors.Safe(id))
	}
	s := slot.DecodePointer(buf[:])
	if err := d.blocks.CheckSlot(id, s, d.mu.fileLen); err != nil {
		return slot.Zero, err
	}
	return s, nil
}

func (d *DB) writePointer(id int32, s slot.Slot) error {
	var buf [slot.PointerLength]byte
	slot.EncodePointer(buf[:], s)
	if _, err := d.file.WriteAt(buf[:], d.blocks.Offset(id)); err != nil {
		return errors.Wrapf(err, "slotdb: writing pointer %d", errors.Safe(id))
	}
	return nil
}

// readSlot reads the bytes of s, a slot with a byte length.
func (d *DB) readSlot(s slot.Slot) ([]byte, error) {
	buf := make([]byte, s.Length)
	if err := vfs.ReadFull(d.file, buf, d.blocks.Offset(s.Address)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, base.CorruptionErrorf("slotdb: slot %s extends past the end of the file", s)
		}
		return nil, errors.Wrapf(err, "slotdb: reading slot %s", s)
	}
	return buf, nil
}

func (d *DB) writeSlot(s slot.Slot, buf []byte) error {
	if _, err := d.file.WriteAt(buf, d.blocks.Offset(s.Address)); err != nil {
		return errors.Wrapf(err, "slotdb: writing slot %s", s)
	}
	return nil
}

// readFrame reads and verifies the object frame stored in s and returns it
// together with its decompressed payload.
func (d *DB) readFrame(s slot.Slot) (marshal.Frame, []byte, error) {
	buf, err := d.readSlot(s)
	if err != nil {
		return marshal.Frame{}, nil, err
	}
	f, err := marshal.DecodeFrame(buf)
	if err != nil {
		return marshal.Frame{}, nil, err
	}
	payload, err := f.Payload()
	if err != nil {
		return marshal.Frame{}, nil, base.MarkCorruptionError(err)
	}
	return f, payload, nil
}

func (d *DB) writeHeader() error {
	var buf [headerLength]byte
	d.mu.hdr.encode(buf[:])
	if _, err := d.file.WriteAt(buf[:], 0); err != nil {
		return errors.Wrap(err, "slotdb: writing header")
	}
	return nil
}

// writeTxPointers writes both transaction pointer fields of the header.
func (d *DB) writeTxPointers(addr int32) error {
	d.mu.hdr.txPointer1 = addr
	d.mu.hdr.txPointer2 = addr
	var buf [txPointerFieldsSize]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(addr))
	binary.BigEndian.PutUint32(buf[slot.IntLength:], uint32(addr))
	if _, err := d.file.WriteAt(buf[:], offTxPointer1); err != nil {
		return errors.Wrap(err, "slotdb: writing transaction pointer")
	}
	return nil
}

func (d *DB) syncFile() error {
	if err := d.file.Sync(); err != nil {
		return errors.Wrap(err, "slotdb: sync")
	}
	return nil
}

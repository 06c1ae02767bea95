// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package ledger

import (
	"encoding/binary"

	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/slot"
)

// LogLength returns the size in bytes of a transaction log holding count
// pointer changes: a length and a count header followed by (id, address,
// length) triples, all int32.
func LogLength(count int) int {
	return ((count * 3) + 2) * slot.IntLength
}

// LogWriter serializes pointer changes into a transaction log.
type LogWriter struct {
	buf   []byte
	count int
}

// MakeLogWriter returns a writer for count changes.
func MakeLogWriter(count int) LogWriter {
	buf := make([]byte, LogLength(count))
	binary.BigEndian.PutUint32(buf[0:], uint32(len(buf)))
	binary.BigEndian.PutUint32(buf[4:], uint32(count))
	return LogWriter{buf: buf}
}

// Add appends the change if it writes a pointer.
func (w *LogWriter) Add(c *SlotChange) {
	if !c.IsSetPointer() {
		return
	}
	off := 2*slot.IntLength + w.count*3*slot.IntLength
	binary.BigEndian.PutUint32(w.buf[off:], uint32(c.ID))
	slot.EncodePointer(w.buf[off+slot.IntLength:], c.NewSlot)
	w.count++
}

// Finish returns the encoded log.
func (w *LogWriter) Finish() []byte {
	return w.buf
}

// DecodeLog parses a transaction log. buf may be longer than the log.
func DecodeLog(buf []byte) ([]slot.Pointer, error) {
	if len(buf) < 2*slot.IntLength {
		return nil, base.CorruptionErrorf("slotdb: transaction log too short (%d bytes)", len(buf))
	}
	length := int(int32(binary.BigEndian.Uint32(buf[0:])))
	count := int(int32(binary.BigEndian.Uint32(buf[4:])))
	if count < 0 || length != LogLength(count) || length > len(buf) {
		return nil, base.CorruptionErrorf("slotdb: transaction log length %d does not match count %d (%d bytes available)",
			length, count, len(buf))
	}
	pointers := make([]slot.Pointer, 0, count)
	off := 2 * slot.IntLength
	for i := 0; i < count; i++ {
		id := int32(binary.BigEndian.Uint32(buf[off:]))
		s := slot.DecodePointer(buf[off+slot.IntLength:])
		off += 3 * slot.IntLength
		if id <= 0 {
			return nil, base.CorruptionErrorf("slotdb: transaction log entry %d has invalid id %d", i, id)
		}
		pointers = append(pointers, slot.Pointer{ID: id, Slot: s})
	}
	return pointers, nil
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package freespace

import (
	"cmp"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/btree"
	"github.com/cockroachdb/slotdb/internal/invariants"
	"github.com/cockroachdb/slotdb/internal/slot"
)

// transactionLogSlack bounds how much of a large free run the commit log may
// claim.
const transactionLogSlack = 100

func byAddress(a, b slot.Slot) int {
	return cmp.Compare(a.Address, b.Address)
}

func bySize(a, b slot.Slot) int {
	if c := cmp.Compare(a.Length, b.Length); c != 0 {
		return c
	}
	return cmp.Compare(a.Address, b.Address)
}

// RAM keeps free runs in two B-trees, one ordered by address (for
// coalescing) and one ordered by size (for best-fit allocation).
type RAM struct {
	byAddress *btree.BTree[slot.Slot]
	bySize    *btree.BTree[slot.Slot]
	total     int64
	// inCommit is set between BeginCommit and EndCommit. Runs freed while it
	// is set wait in pending.
	inCommit bool
	pending  []slot.Slot
}

var _ Manager = (*RAM)(nil)

// NewRAM returns an empty RAM manager.
func NewRAM() *RAM {
	return &RAM{
		byAddress: btree.New[slot.Slot](byAddress),
		bySize:    btree.New[slot.Slot](bySize),
	}
}

// Kind implements Manager.
func (r *RAM) Kind() Kind { return KindRAM }

func (r *RAM) add(s slot.Slot) {
	r.byAddress.Set(s)
	r.bySize.Set(s)
	r.total += int64(s.Length)
}

func (r *RAM) remove(s slot.Slot) {
	r.byAddress.Delete(s)
	r.bySize.Delete(s)
	r.total -= int64(s.Length)
}

// GetSlot implements Manager.
func (r *RAM) GetSlot(blocks int32) (slot.Slot, bool) {
	if blocks <= 0 {
		return slot.Zero, false
	}
	it := r.bySize.NewIter()
	it.SeekGE(slot.Slot{Length: blocks})
	if !it.Valid() {
		return slot.Zero, false
	}
	run := it.Item()
	r.remove(run)
	if rest := run.Length - blocks; rest > 0 {
		r.add(slot.Slot{Address: run.Address + blocks, Length: rest})
	}
	return slot.Slot{Address: run.Address, Length: blocks}, true
}

// Free implements Manager.
func (r *RAM) Free(s slot.Slot) {
	if s.IsNull() || s.Length <= 0 {
		return
	}
	if r.inCommit {
		r.pending = append(r.pending, s)
		return
	}
	r.free(s)
}

func (r *RAM) free(s slot.Slot) {
	it := r.byAddress.NewIter()
	it.SeekLT(s)
	if it.Valid() {
		prev := it.Item()
		end := prev.Address + prev.Length
		if end > s.Address {
			r.overlap(prev, s)
			return
		}
		if end == s.Address {
			r.remove(prev)
			s = slot.Slot{Address: prev.Address, Length: prev.Length + s.Length}
		}
	}
	it.SeekGE(s)
	if it.Valid() {
		next := it.Item()
		end := s.Address + s.Length
		if end > next.Address {
			r.overlap(next, s)
			return
		}
		if end == next.Address {
			r.remove(next)
			s.Length += next.Length
		}
	}
	r.add(s)
}

func (r *RAM) overlap(existing, freed slot.Slot) {
	if invariants.Enabled {
		panic(fmt.Sprintf("slotdb: freeing %s overlaps free run %s", freed, existing))
	}
}

// AllocateTransactionLogSlot implements Manager.
func (r *RAM) AllocateTransactionLogSlot(blocks int32) (slot.Slot, bool) {
	it := r.bySize.NewIter()
	it.Last()
	if !it.Valid() {
		return slot.Zero, false
	}
	largest := it.Item()
	if largest.Length < blocks {
		return slot.Zero, false
	}
	if limit := blocks + transactionLogSlack; largest.Length > limit {
		return r.GetSlot(limit)
	}
	r.remove(largest)
	return largest, true
}

// FreeTransactionLogSlot implements Manager.
func (r *RAM) FreeTransactionLogSlot(s slot.Slot) {
	r.Free(s)
}

// BeginCommit implements Manager.
func (r *RAM) BeginCommit() {
	r.inCommit = true
}

// Commit implements Manager. The free list is kept in memory only, so there
// are no pending structure writes to flush.
func (r *RAM) Commit() {}

// EndCommit implements Manager.
func (r *RAM) EndCommit() {
	r.inCommit = false
	pending := r.pending
	r.pending = nil
	for _, s := range pending {
		r.free(s)
	}
}

// SlotCount implements Manager.
func (r *RAM) SlotCount() int {
	return r.byAddress.Len()
}

// TotalFree implements Manager.
func (r *RAM) TotalFree() int64 {
	return r.total
}

// Traverse implements Manager.
func (r *RAM) Traverse(fn func(slot.Slot)) {
	r.byAddress.Ascend(func(s slot.Slot) bool {
		fn(s)
		return true
	})
}

// Marshal implements Manager. The layout is a big-endian int32 count
// followed by (address, length) pairs.
func (r *RAM) Marshal() []byte {
	if r.byAddress.Len() == 0 {
		return nil
	}
	buf := make([]byte, slot.IntLength+r.byAddress.Len()*slot.PointerLength)
	binary.BigEndian.PutUint32(buf, uint32(r.byAddress.Len()))
	off := slot.IntLength
	r.Traverse(func(s slot.Slot) {
		slot.EncodePointer(buf[off:], s)
		off += slot.PointerLength
	})
	return buf
}

// Unmarshal implements Manager.
func (r *RAM) Unmarshal(buf []byte) error {
	if len(buf) < slot.IntLength {
		return base.CorruptionErrorf("slotdb: freespace record too short (%d bytes)", len(buf))
	}
	n := int(binary.BigEndian.Uint32(buf))
	if n < 0 || len(buf) < slot.IntLength+n*slot.PointerLength {
		return base.CorruptionErrorf("slotdb: freespace record holds %d runs in %d bytes", n, len(buf))
	}
	off := slot.IntLength
	for i := 0; i < n; i++ {
		s := slot.DecodePointer(buf[off:])
		off += slot.PointerLength
		if s.Address <= 0 || s.Length <= 0 {
			return base.CorruptionErrorf("slotdb: invalid free run %s", s)
		}
		r.free(s)
	}
	return nil
}

// String returns the free runs in address order.
func (r *RAM) String() string {
	var buf []byte
	r.Traverse(func(s slot.Slot) {
		buf = fmt.Appendf(buf, "%s\n", s)
	})
	return string(buf)
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package ledger

import (
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/slotdb/internal/slot"
)

// Flags records which actions a SlotChange performs at commit or rollback.
type Flags uint8

const (
	// FreeOnCommit frees the committed (shared) slot when the transaction
	// commits.
	FreeOnCommit Flags = 1 << iota
	// FreeOnRollback frees NewSlot when the transaction rolls back.
	FreeOnRollback
	// SetPointer writes NewSlot to the pointer of the ID at commit.
	SetPointer
	// FreePointerOnCommit frees the pointer slot itself at commit.
	FreePointerOnCommit
	// FreePointerOnRollback frees the pointer slot itself at rollback. It
	// marks objects created by the transaction.
	FreePointerOnRollback
	// Freespace marks changes belonging to the freespace system. They are
	// freed inside the freespace commit bracket.
	Freespace
)

// Freer releases slots. Slot lengths are in bytes.
type Freer interface {
	Free(s slot.Slot)
}

// SlotChange is the pending state of one ID within one transaction.
type SlotChange struct {
	ID      int32
	NewSlot slot.Slot
	flags   Flags
	shared  *SharedSlot
}

// Has returns true if all of the given flags are set.
func (c *SlotChange) Has(f Flags) bool {
	return c.flags&f == f
}

// IsSetPointer returns true if the change writes the pointer at commit.
func (c *SlotChange) IsSetPointer() bool {
	return c.Has(SetPointer)
}

// IsDeleted returns true if the change deletes the object.
func (c *SlotChange) IsDeleted() bool {
	return c.IsSetPointer() && c.NewSlot.Address == 0
}

// IsNew returns true if the object was created by the transaction.
func (c *SlotChange) IsNew() bool {
	return c.Has(FreePointerOnRollback)
}

// OldSlot returns the committed slot scheduled to be freed at commit, if any.
func (c *SlotChange) OldSlot() (slot.Slot, bool) {
	if c.shared == nil {
		return slot.Zero, false
	}
	return c.shared.slot, true
}

func (c *SlotChange) setPointer(s slot.Slot) {
	c.flags |= SetPointer
	c.NewSlot = s
}

func (c *SlotChange) freeOnRollback(s slot.Slot) {
	c.flags |= FreeOnRollback
	c.NewSlot = s
}

func (c *SlotChange) freeOnRollbackSetPointer(s slot.Slot) {
	c.flags |= SetPointer
	c.freeOnRollback(s)
}

// freeOnCommit schedules s to be freed when the transaction commits. A slot
// that this transaction allocated itself was never visible to anyone else
// and is released right away, as is any slot after the first one scheduled
// for the ID.
func (c *SlotChange) freeOnCommit(shared *SharedSlots, f Freer, s slot.Slot) {
	if s.IsNull() {
		return
	}
	if c.Has(FreeOnRollback) && s == c.NewSlot {
		f.Free(s)
		c.NewSlot = slot.Zero
		return
	}
	if c.shared != nil {
		f.Free(s)
		return
	}
	c.flags |= FreeOnCommit
	ref := shared.produce(c.ID)
	if ref.addReferenceIsFirst() {
		ref.slot = s
	}
	c.shared = ref
}

func (c *SlotChange) freeDuringCommit(shared *SharedSlots, f Freer, forFreespace bool) {
	if c.Has(Freespace) != forFreespace {
		return
	}
	if c.Has(FreeOnCommit) && c.shared != nil {
		shared.freeDuringCommit(c.shared, f, c.NewSlot)
		c.shared = nil
	}
	if c.Has(FreePointerOnCommit) {
		f.Free(pointerSlot(c.ID))
	}
}

func (c *SlotChange) rollback(shared *SharedSlots, f Freer) {
	if c.shared != nil {
		shared.reduce(c.shared)
		c.shared = nil
	}
	if c.Has(FreeOnRollback) {
		f.Free(c.NewSlot)
	}
	if c.Has(FreePointerOnRollback) {
		f.Free(pointerSlot(c.ID))
	}
}

// SafeFormat implements redact.SafeFormatter.
func (c *SlotChange) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d:", c.ID)
	for _, n := range []struct {
		f    Flags
		name redact.SafeString
	}{
		{FreeOnCommit, "free-on-commit"},
		{FreeOnRollback, "free-on-rollback"},
		{SetPointer, "set-pointer"},
		{FreePointerOnCommit, "free-pointer-on-commit"},
		{FreePointerOnRollback, "free-pointer-on-rollback"},
		{Freespace, "freespace"},
	} {
		if c.Has(n.f) {
			w.Printf(" %s", n.name)
		}
	}
	w.Printf(" new=%s", c.NewSlot)
	if old, ok := c.OldSlot(); ok {
		w.Printf(" old=%s", old)
	}
}

// String implements fmt.Stringer.
func (c *SlotChange) String() string {
	return redact.StringWithoutMarkers(c)
}

func pointerSlot(id int32) slot.Slot {
	return slot.Slot{Address: id, Length: slot.PointerLength}
}

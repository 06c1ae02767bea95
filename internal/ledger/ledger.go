// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package ledger tracks the pending pointer changes of a transaction: which
// slot each touched ID will point to once the transaction commits, and which
// slots must be released on commit or on rollback.
package ledger

import (
	"cmp"

	"github.com/cockroachdb/slotdb/internal/btree"
	"github.com/cockroachdb/slotdb/internal/slot"
)

// Ledger is the set of SlotChanges of one transaction, ordered by ID.
type Ledger struct {
	changes *btree.BTree[*SlotChange]
	shared  *SharedSlots
	freer   Freer
}

func byID(a, b *SlotChange) int {
	return cmp.Compare(a.ID, b.ID)
}

// New returns an empty ledger. Slots scheduled to be freed on commit are
// registered in shared; slots released directly are handed to freer.
func New(shared *SharedSlots, freer Freer) *Ledger {
	return &Ledger{
		changes: btree.New[*SlotChange](byID),
		shared:  shared,
		freer:   freer,
	}
}

// Find returns the change recorded for id, or nil.
func (l *Ledger) Find(id int32) *SlotChange {
	c, _ := l.changes.Get(&SlotChange{ID: id})
	return c
}

func (l *Ledger) produce(id int32) *SlotChange {
	if c := l.Find(id); c != nil {
		return c
	}
	c := &SlotChange{ID: id}
	l.changes.Set(c)
	return c
}

// Len returns the number of touched IDs.
func (l *Ledger) Len() int {
	return l.changes.Len()
}

// Empty returns true if the ledger holds no changes.
func (l *Ledger) Empty() bool {
	return l.changes.Len() == 0
}

// SetPointer records that id will point to s once committed.
func (l *Ledger) SetPointer(id int32, s slot.Slot) {
	l.produce(id).setPointer(s)
}

// SlotDelete deletes id: its current slot s is freed on commit and the
// pointer is set to the null slot. Objects created by this transaction also
// release their pointer slot at commit.
func (l *Ledger) SlotDelete(id int32, s slot.Slot) {
	if id == 0 {
		return
	}
	c := l.produce(id)
	c.freeOnCommit(l.shared, l.freer, s)
	c.setPointer(slot.Zero)
	if c.IsNew() {
		c.flags |= FreePointerOnCommit
	}
}

// SlotFreeOnCommit schedules s, the slot id currently points to, to be freed
// at commit.
func (l *Ledger) SlotFreeOnCommit(id int32, s slot.Slot) {
	if id == 0 {
		return
	}
	l.produce(id).freeOnCommit(l.shared, l.freer, s)
}

// SlotFreeOnRollback records a slot allocated for id that must be freed if
// the transaction rolls back.
func (l *Ledger) SlotFreeOnRollback(id int32, s slot.Slot) {
	l.produce(id).freeOnRollback(s)
}

// SlotFreeOnRollbackCommitSetPointer moves id from old to the freshly
// allocated slot s: s is freed on rollback, old on commit. forFreespace
// marks changes belonging to the freespace system.
func (l *Ledger) SlotFreeOnRollbackCommitSetPointer(id int32, old, s slot.Slot, forFreespace bool) {
	c := l.produce(id)
	c.freeOnRollbackSetPointer(s)
	c.freeOnCommit(l.shared, l.freer, old)
	if forFreespace {
		c.flags |= Freespace
	}
}

// ProduceUpdateSlotChange records the new slot s of an updated object.
func (l *Ledger) ProduceUpdateSlotChange(id int32, s slot.Slot) {
	l.produce(id).freeOnRollbackSetPointer(s)
}

// SlotFreePointerOnRollback marks id as created by this transaction: its
// pointer slot is released if the transaction rolls back.
func (l *Ledger) SlotFreePointerOnRollback(id int32) {
	l.produce(id).flags |= FreePointerOnRollback
}

// ReleaseForFreespace schedules both the slot s and the pointer slot of id
// to be freed inside the freespace commit bracket.
func (l *Ledger) ReleaseForFreespace(id int32, s slot.Slot) {
	c := l.produce(id)
	c.freeOnCommit(l.shared, l.freer, s)
	c.flags |= FreePointerOnCommit | Freespace
}

// IsDeleted returns true if the ledger deletes id.
func (l *Ledger) IsDeleted(id int32) bool {
	if c := l.Find(id); c != nil {
		return c.IsDeleted()
	}
	return false
}

// Traverse calls fn for every change in ID order.
func (l *Ledger) Traverse(fn func(*SlotChange)) {
	l.changes.Ascend(func(c *SlotChange) bool {
		fn(c)
		return true
	})
}

// CountSetPointer returns the number of changes that write a pointer.
func (l *Ledger) CountSetPointer() int {
	n := 0
	l.Traverse(func(c *SlotChange) {
		if c.IsSetPointer() {
			n++
		}
	})
	return n
}

// FreeDuringCommit releases the slots scheduled to be freed on commit.
// Changes marked Freespace are only handled when forFreespace is set.
func (l *Ledger) FreeDuringCommit(forFreespace bool) {
	l.Traverse(func(c *SlotChange) {
		c.freeDuringCommit(l.shared, l.freer, forFreespace)
	})
}

// Rollback releases every slot the transaction allocated and drops its claims
// on shared slots. The ledger is cleared.
func (l *Ledger) Rollback() {
	l.Traverse(func(c *SlotChange) {
		c.rollback(l.shared, l.freer)
	})
	l.Clear()
}

// Clear drops all changes.
func (l *Ledger) Clear() {
	l.changes.Reset()
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package ledger

import (
	"github.com/cockroachdb/slotdb/internal/invariants"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/swiss"
)

// SharedSlot is the committed slot of an ID that one or more transactions
// have scheduled to free on commit. It is shared by all transactions of a
// DB: when the first of them commits it frees the old slot and the entry
// moves on to the slot that transaction committed, which the next committer
// in turn supersedes.
type SharedSlot struct {
	id   int32
	slot slot.Slot
	refs int
}

func (s *SharedSlot) addReferenceIsFirst() bool {
	s.refs++
	return s.refs == 1
}

// SharedSlots is the DB-wide registry of SharedSlot entries, keyed by ID.
type SharedSlots struct {
	m *swiss.Map[int32, *SharedSlot]
}

// MakeSharedSlots returns an empty registry.
func MakeSharedSlots() SharedSlots {
	return SharedSlots{m: swiss.New[int32, *SharedSlot](16)}
}

// Len returns the number of IDs with a pending free-on-commit slot.
func (s *SharedSlots) Len() int {
	return s.m.Len()
}

func (s *SharedSlots) produce(id int32) *SharedSlot {
	if ref, ok := s.m.Get(id); ok {
		return ref
	}
	ref := &SharedSlot{id: id}
	s.m.Put(id, ref)
	return ref
}

func (s *SharedSlots) freeDuringCommit(ref *SharedSlot, f Freer, committed slot.Slot) {
	f.Free(ref.slot)
	ref.refs = invariants.SafeSub(ref.refs, 1)
	if ref.refs == 0 {
		s.m.Delete(ref.id)
		return
	}
	ref.slot = committed
}

func (s *SharedSlots) reduce(ref *SharedSlot) {
	ref.refs = invariants.SafeSub(ref.refs, 1)
	if ref.refs == 0 {
		s.m.Delete(ref.id)
	}
}

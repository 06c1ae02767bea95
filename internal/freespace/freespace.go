// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package freespace implements the allocators that hand out and reclaim
// block runs of a slotdb file. All slots crossing this package boundary are
// expressed in blocks (address and length).
package freespace

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/slot"
)

// Kind identifies a freespace system. It is persisted in the file header.
type Kind uint8

const (
	// KindRAM keeps the free list in memory and persists it on close.
	KindRAM Kind = iota
	// KindAppend never reuses space: every allocation grows the file.
	KindAppend
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRAM:
		return "ram"
	case KindAppend:
		return "append"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind parses the textual form produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ram":
		return KindRAM, nil
	case "append":
		return KindAppend, nil
	}
	return 0, errors.Errorf("slotdb: unknown freespace system %q", s)
}

// Manager is the allocator used by the storage engine. GetSlot returning
// false means the caller must grow the file. Slots freed inside a commit
// bracket (between BeginCommit and EndCommit) are only handed out again
// after EndCommit.
type Manager interface {
	Kind() Kind
	// GetSlot returns a run of exactly blocks blocks.
	GetSlot(blocks int32) (slot.Slot, bool)
	// Free returns a run to the allocator. The null slot is ignored.
	Free(s slot.Slot)
	// AllocateTransactionLogSlot returns a run of at least blocks blocks
	// for the commit log.
	AllocateTransactionLogSlot(blocks int32) (slot.Slot, bool)
	FreeTransactionLogSlot(s slot.Slot)
	BeginCommit()
	Commit()
	EndCommit()
	// SlotCount returns the number of free runs.
	SlotCount() int
	// TotalFree returns the number of free blocks.
	TotalFree() int64
	// Traverse calls fn for every free run in address order.
	Traverse(fn func(slot.Slot))
	// Marshal encodes the free list. It returns nil if there is nothing to
	// persist.
	Marshal() []byte
	// Unmarshal adds the runs of an encoded free list.
	Unmarshal(buf []byte) error
}

// New returns a manager of the given kind.
func New(kind Kind) (Manager, error) {
	switch kind {
	case KindRAM:
		return NewRAM(), nil
	case KindAppend:
		return &Append{}, nil
	}
	return nil, errors.Errorf("slotdb: unknown freespace system %d", errors.Safe(kind))
}

// Append is a Manager that never reuses space.
type Append struct {
	// Leaked counts the blocks handed to Free.
	Leaked int64
}

var _ Manager = (*Append)(nil)

// Kind implements Manager.
func (*Append) Kind() Kind { return KindAppend }

// GetSlot implements Manager.
func (*Append) GetSlot(int32) (slot.Slot, bool) { return slot.Zero, false }

// Free implements Manager.
func (a *Append) Free(s slot.Slot) {
	if !s.IsNull() {
		a.Leaked += int64(s.Length)
	}
}

// AllocateTransactionLogSlot implements Manager.
func (*Append) AllocateTransactionLogSlot(int32) (slot.Slot, bool) { return slot.Zero, false }

// FreeTransactionLogSlot implements Manager.
func (a *Append) FreeTransactionLogSlot(s slot.Slot) { a.Free(s) }

// BeginCommit implements Manager.
func (*Append) BeginCommit() {}

// Commit implements Manager.
func (*Append) Commit() {}

// EndCommit implements Manager.
func (*Append) EndCommit() {}

// SlotCount implements Manager.
func (*Append) SlotCount() int { return 0 }

// TotalFree implements Manager.
func (*Append) TotalFree() int64 { return 0 }

// Traverse implements Manager.
func (*Append) Traverse(func(slot.Slot)) {}

// Marshal implements Manager.
func (*Append) Marshal() []byte { return nil }

// Unmarshal implements Manager.
func (*Append) Unmarshal([]byte) error { return nil }

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"encoding/binary"
	"reflect"
	"runtime"
	"unsafe"
	"weak"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/redact"
	"github.com/cockroachdb/slotdb/internal/refcache"
)

type refState uint8

const (
	refActive refState = 1 << iota
	// refDirty marks references whose object has changes that are not yet
	// written. Dirty references are held strongly.
	refDirty
	// refNew marks references created by the owning transaction.
	refNew
	// refProcessing is set while the object is being written or read.
	refProcessing
	// refContinueSet marks new objects that were assigned an ID while their
	// referrer was written and that still have to be stored.
	refContinueSet
)

// ObjectReference binds a stored ID to the in-memory object that represents
// it within one transaction. At most one reference exists per ID and per
// object in a transaction.
type ObjectReference struct {
	id    int32
	class *class
	// typ is the pointer type of the object.
	typ  reflect.Type
	addr uintptr
	// strong holds the object unless the DB uses weak references and the
	// reference is not pinned.
	strong reflect.Value
	weak   weak.Pointer[byte]

	state refState
	// lastCall is the top-level call that last handled the reference. A
	// negated call ID flags the reference as deleted during that call.
	lastCall int64

	rs         *referenceSystem
	h          refcache.Handle
	inNew      bool
	cleanup    runtime.Cleanup
	cleanupSet bool
}

func newObjectReference(p reflect.Value, c *class) *ObjectReference {
	return &ObjectReference{
		class:  c,
		typ:    p.Type(),
		addr:   p.Pointer(),
		strong: p,
	}
}

// ID returns the stored ID, or zero for references of objects that were
// never assigned one.
func (r *ObjectReference) ID() int32 {
	return r.id
}

// Object returns the referenced object, or nil if it was garbage collected.
func (r *ObjectReference) Object() any {
	p, ok := r.value()
	if !ok {
		return nil
	}
	return p.Interface()
}

// IsActive returns true if the object's fields are populated.
func (r *ObjectReference) IsActive() bool {
	return r.state&refActive != 0
}

// value returns the pointer to the object.
func (r *ObjectReference) value() (reflect.Value, bool) {
	if r.strong.IsValid() {
		return r.strong, true
	}
	p := r.weak.Value()
	if p == nil {
		return reflect.Value{}, false
	}
	return reflect.NewAt(r.typ.Elem(), unsafe.Pointer(p)), true
}

// holds returns true if the reference refers to the object at p.
func (r *ObjectReference) holds(p reflect.Value) bool {
	if r.addr != p.Pointer() || r.typ != p.Type() {
		return false
	}
	if r.strong.IsValid() {
		return true
	}
	// A collected object's address may have been reused.
	return r.weak.Value() == (*byte)(p.UnsafePointer())
}

func (r *ObjectReference) setState(s refState, on bool) {
	if on {
		r.state |= s
	} else {
		r.state &^= s
	}
}

func (r *ObjectReference) isDirty() bool {
	return r.state&(refDirty|refContinueSet|refProcessing) != 0
}

func (r *ObjectReference) flagAsHandled(call int64) {
	r.lastCall = call
}

func (r *ObjectReference) isFlaggedAsHandled(call int64) bool {
	return r.lastCall == call
}

func (r *ObjectReference) flagForDelete(call int64) {
	r.lastCall = -call
}

func (r *ObjectReference) isFlaggedForDelete(call int64) bool {
	return r.lastCall == -call
}

// SafeFormat implements redact.SafeFormatter.
func (r *ObjectReference) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("ref(%d", r.id)
	if r.class != nil {
		w.Printf(" %s", redact.Safe(r.class.name))
	}
	if r.IsActive() {
		w.SafeString(" active")
	}
	if r.state&refDirty != 0 {
		w.SafeString(" dirty")
	}
	if r.state&refNew != 0 {
		w.SafeString(" new")
	}
	if r.state&refContinueSet != 0 {
		w.SafeString(" continue-set")
	}
	w.SafeString(")")
}

// String implements fmt.Stringer.
func (r *ObjectReference) String() string {
	return redact.StringWithoutMarkers(r)
}

// identityHash hashes the address of an object. Objects do not move, so the
// address identifies the object for as long as it is reachable.
func identityHash(addr uintptr) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(addr))
	return xxhash.Sum64(buf[:])
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"reflect"
	"runtime"
	"weak"

	"github.com/cockroachdb/slotdb/internal/refcache"
)

// referenceSystem is the identity cache of one transaction. References to
// objects stored for the first time by the transaction are kept apart from
// the committed ones so that a rollback can drop them and a commit can merge
// them. Each cache indexes its entries both by ID and by identity hash.
type referenceSystem struct {
	db        *DB
	committed *refcache.Cache[*ObjectReference]
	added     *refcache.Cache[*ObjectReference]
}

func newReferenceSystem(d *DB) *referenceSystem {
	return &referenceSystem{
		db:        d,
		committed: refcache.New[*ObjectReference](),
		added:     refcache.New[*ObjectReference](),
	}
}

func (rs *referenceSystem) cacheOf(ref *ObjectReference) *refcache.Cache[*ObjectReference] {
	if ref.inNew {
		return rs.added
	}
	return rs.committed
}

func (rs *referenceSystem) referenceForID(id int32) *ObjectReference {
	if id <= 0 {
		return nil
	}
	if h, ok := rs.added.FindID(id); ok {
		return rs.added.Get(h)
	}
	if h, ok := rs.committed.FindID(id); ok {
		return rs.committed.Get(h)
	}
	return nil
}

func (rs *referenceSystem) referenceForObject(p reflect.Value) *ObjectReference {
	hash := identityHash(p.Pointer())
	match := func(ref *ObjectReference) bool { return ref.holds(p) }
	if h, ok := rs.added.FindHash(hash, match); ok {
		return rs.added.Get(h)
	}
	if h, ok := rs.committed.FindHash(hash, match); ok {
		return rs.committed.Get(h)
	}
	return nil
}

func (rs *referenceSystem) add(ref *ObjectReference, inNew bool) {
	ref.rs = rs
	ref.inNew = inNew
	ref.h = rs.cacheOf(ref).Add(ref.id, identityHash(ref.addr), ref)
	rs.db.track(ref)
}

// addNewReference adds the reference of an object stored for the first time
// by the transaction.
func (rs *referenceSystem) addNewReference(ref *ObjectReference) {
	ref.setState(refNew, true)
	rs.add(ref, true)
}

// addExistingReference adds the reference of an object read from a
// committed slot.
func (rs *referenceSystem) addExistingReference(ref *ObjectReference) {
	rs.add(ref, false)
}

func (rs *referenceSystem) removeReference(ref *ObjectReference) {
	if ref.rs != rs {
		return
	}
	rs.cacheOf(ref).Remove(ref.h)
	ref.rs = nil
	ref.h = 0
	if ref.cleanupSet {
		ref.cleanup.Stop()
		ref.cleanupSet = false
	}
}

// commit merges the new references into the committed ones.
func (rs *referenceSystem) commit() {
	for _, h := range rs.added.Handles() {
		ref := rs.added.Get(h)
		ref.setState(refNew, false)
		ref.inNew = false
		ref.h = rs.committed.Add(ref.id, identityHash(ref.addr), ref)
	}
	rs.added.Reset()
}

// rollback drops the new references. Their objects are left without an ID.
func (rs *referenceSystem) rollback() int {
	handles := rs.added.Handles()
	for _, h := range handles {
		ref := rs.added.Get(h)
		rs.removeReference(ref)
		ref.id = 0
		ref.setState(refNew|refActive|refDirty|refContinueSet, false)
	}
	rs.added.Reset()
	return len(handles)
}

// traverse calls fn for every reference, committed ones first.
func (rs *referenceSystem) traverse(fn func(*ObjectReference)) {
	for _, c := range [...]*refcache.Cache[*ObjectReference]{rs.committed, rs.added} {
		for _, h := range c.Handles() {
			fn(c.Get(h))
		}
	}
}

// discard drops all references.
func (rs *referenceSystem) discard() {
	rs.traverse(rs.removeReference)
}

func (rs *referenceSystem) len() int {
	return rs.committed.Len() + rs.added.Len()
}

// track applies the DB's reference strength to ref. Dirty references and
// references to zero-sized objects stay strong.
func (d *DB) track(ref *ObjectReference) {
	if !d.opts.WeakReferences || ref.isDirty() || ref.typ.Elem().Size() == 0 {
		return
	}
	if !ref.strong.IsValid() {
		return
	}
	ptr := (*byte)(ref.strong.UnsafePointer())
	ref.weak = weak.Make(ptr)
	if !ref.cleanupSet {
		ref.cleanup = runtime.AddCleanup(ptr, d.onCollected, ref)
		ref.cleanupSet = true
	}
	ref.strong = reflect.Value{}
}

// pin holds the object of ref strongly until the next track.
func (d *DB) pin(ref *ObjectReference) {
	if ref.strong.IsValid() {
		return
	}
	if p, ok := ref.value(); ok {
		ref.strong = p
	}
}

// onCollected runs on the cleanup goroutine once the object of ref has been
// reclaimed.
func (d *DB) onCollected(ref *ObjectReference) {
	d.collected.Lock()
	defer d.collected.Unlock()
	d.collected.refs = append(d.collected.refs, ref)
}

// pollCollectedLocked removes the references whose objects were reclaimed.
func (d *DB) pollCollectedLocked() int {
	d.collected.Lock()
	refs := d.collected.refs
	d.collected.refs = nil
	d.collected.Unlock()

	n := 0
	for _, ref := range refs {
		if ref.rs == nil || ref.isDirty() || ref.strong.IsValid() || ref.weak.Value() != nil {
			continue
		}
		ref.cleanupSet = false
		ref.rs.removeReference(ref)
		n++
	}
	d.mu.metrics.collected += int64(n)
	return n
}

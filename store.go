// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/marshal"
)

// linker assigns IDs to the objects referenced by an object being written.
type linker struct {
	t *Txn
	// depth is the update depth of the referenced objects.
	depth int
}

var _ marshal.Linker = (*linker)(nil)

// LinkID implements marshal.Linker.
func (l *linker) LinkID(p reflect.Value, _ *marshal.Layout) (int32, error) {
	return l.t.linkID(p, l.depth)
}

// ClassID implements marshal.Linker.
func (l *linker) ClassID(layout *marshal.Layout) (int32, error) {
	c, err := l.t.db.mu.classes.bind(l.t.db.reg, layout.Type, nil)
	if err != nil {
		return 0, err
	}
	if err := checkStorable(c); err != nil {
		return 0, err
	}
	return c.id, nil
}

// LayoutOf implements marshal.Linker.
func (l *linker) LayoutOf(p reflect.Value) (*marshal.Layout, error) {
	return l.t.db.reg.LayoutOf(p)
}

func checkStorable(c *class) error {
	if c.state == classStale {
		return errors.Mark(errors.Errorf("slotdb: stored layout of class %s differs from %s",
			errors.Safe(c.name), errors.Safe(c.layout.Type.String())), base.ErrNotStorable)
	}
	return nil
}

// newReference assigns an ID to p, an object the transaction has not seen,
// and registers it as new. It returns nil if the object vetoes being stored.
func (t *Txn) newReference(p reflect.Value, c *class) (*ObjectReference, error) {
	if cb, ok := p.Interface().(ObjectCanNew); ok && !t.ask(cb.ObjectCanNew) {
		return nil, nil
	}
	id, err := t.db.newID()
	if err != nil {
		return nil, err
	}
	ref := newObjectReference(p, c)
	ref.id = id
	ref.setState(refContinueSet, true)
	t.refs.addNewReference(ref)
	t.ledger.SlotFreePointerOnRollback(id)
	return ref, nil
}

// storeObject stores obj to depth, or to the update depth of its class if
// depth is negative, and returns its ID.
func (t *Txn) storeObject(obj any, depth int) (int32, error) {
	d := t.db
	p := reflect.ValueOf(obj)
	if !p.IsValid() {
		return 0, errors.Mark(errors.New("slotdb: cannot store nil"), base.ErrNotStorable)
	}
	c, err := d.classOf(p)
	if err != nil {
		return 0, err
	}
	if p.IsNil() {
		return 0, errors.Mark(errors.New("slotdb: cannot store a nil pointer"), base.ErrNotStorable)
	}
	if err := checkStorable(c); err != nil {
		return 0, err
	}
	if depth < 0 {
		depth = c.updateDepth(d.opts)
	}
	ref := t.refs.referenceForObject(p)
	switch {
	case ref == nil:
		if ref, err = t.newReference(p, c); err != nil || ref == nil {
			return 0, err
		}
	case t.isDeleted(ref.id):
		return 0, errors.Mark(errors.Errorf("slotdb: object %d was deleted", errors.Safe(ref.id)),
			base.ErrNotStorable)
	}
	if err := t.storeReference(ref, depth); err != nil {
		return 0, err
	}
	return ref.id, nil
}

// storeReference writes the object of ref. References queued for storing
// are written before the outermost call returns.
func (t *Txn) storeReference(ref *ObjectReference, depth int) error {
	d := t.db
	calls := &d.mu.calls
	if ref.isFlaggedAsHandled(calls.id) || ref.id <= 0 {
		return nil
	}
	p, ok := ref.value()
	if !ok {
		return nil
	}
	if d.atStackLimit() {
		calls.stillToSet = append(calls.stillToSet, pendingStore{t: t, ref: ref, depth: depth})
		return nil
	}
	first := ref.state&refContinueSet != 0
	if !first {
		if cb, ok := p.Interface().(ObjectCanUpdate); ok && !t.ask(cb.ObjectCanUpdate) {
			return nil
		}
	}
	ref.flagAsHandled(calls.id)
	d.pin(ref)
	ref.setState(refProcessing, true)
	calls.depth++
	err := t.writeObject(ref, p, depth)
	calls.depth--
	ref.setState(refProcessing, false)
	if err != nil {
		return err
	}
	ref.setState(refContinueSet|refDirty, false)
	ref.setState(refActive, true)
	d.track(ref)
	d.mu.metrics.stores++
	if first {
		t.extents.add(ref.class, ref.id)
		if cb, ok := p.Interface().(ObjectOnNew); ok {
			t.notify(cb.ObjectOnNew)
		}
	} else if cb, ok := p.Interface().(ObjectOnUpdate); ok {
		t.notify(cb.ObjectOnUpdate)
	}
	return nil
}

// writeObject marshals the object into a fresh slot and records the pointer
// change in the ledger.
func (t *Txn) writeObject(ref *ObjectReference, p reflect.Value, depth int) error {
	d := t.db
	c := ref.class
	old, err := t.currentSlot(ref.id)
	if err != nil {
		return err
	}
	w := marshal.MakeWriter(&linker{t: t, depth: c.childUpdateDepth(depth, d.opts)})
	if err := w.Marshal(c.layout, p.Elem()); err != nil {
		return errors.Wrapf(err, "slotdb: storing object %d", errors.Safe(ref.id))
	}
	frame := marshal.AppendFrame(nil, c.id, d.opts.Compression, w.Bytes())
	s := d.getSlot(len(frame))
	if err := d.writeSlot(s, frame); err != nil {
		d.free(s)
		return err
	}
	if ch := t.ledger.Find(ref.id); ch != nil && ch.IsNew() {
		// The previous slot of an object created by this transaction was
		// never committed.
		if ch.IsSetPointer() {
			d.free(ch.NewSlot)
		}
		t.ledger.ProduceUpdateSlotChange(ref.id, s)
		return nil
	}
	t.ledger.SlotFreeOnRollbackCommitSetPointer(ref.id, old, s, false)
	return nil
}

// linkID returns the ID of p, an object referenced by an object being
// written. Objects without an ID are assigned one and queued for storing.
// Existing objects are queued if the update depth reaches them.
func (t *Txn) linkID(p reflect.Value, depth int) (int32, error) {
	if p.IsNil() {
		return 0, nil
	}
	calls := &t.db.mu.calls
	ref := t.refs.referenceForObject(p)
	if ref == nil {
		c, err := t.db.classOf(p)
		if err != nil {
			return 0, err
		}
		if err := checkStorable(c); err != nil {
			return 0, err
		}
		if ref, err = t.newReference(p, c); err != nil || ref == nil {
			return 0, err
		}
		calls.stillToSet = append(calls.stillToSet, pendingStore{t: t, ref: ref, depth: depth})
		return ref.id, nil
	}
	if depth > 0 && ref.state&refContinueSet == 0 && !ref.isFlaggedAsHandled(calls.id) {
		calls.stillToSet = append(calls.stillToSet, pendingStore{t: t, ref: ref, depth: depth})
	}
	return ref.id, nil
}

// idOf returns the ID of p in t, or zero if p is not stored or deleted.
func (t *Txn) idOf(p reflect.Value) int32 {
	if !p.IsValid() || p.Kind() != reflect.Pointer || p.IsNil() {
		return 0
	}
	ref := t.refs.referenceForObject(p)
	if ref == nil || ref.id <= 0 || t.isDeleted(ref.id) {
		return 0
	}
	return ref.id
}

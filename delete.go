// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/marshal"
)

// pendingDelete is a delete queued on a transaction. Member deletes are
// cascaded from a deleted referrer and consume one level of cascade.
type pendingDelete struct {
	id      int32
	ref     *ObjectReference
	cascade int
	member  bool
}

// deleteObject deletes obj and, if its class cascades, the objects it
// references. Objects that are not stored are ignored.
func (t *Txn) deleteObject(obj any) error {
	p := reflect.ValueOf(obj)
	if !p.IsValid() || p.Kind() != reflect.Pointer || p.IsNil() {
		return nil
	}
	ref := t.refs.referenceForObject(p)
	if ref == nil || ref.id <= 0 {
		return nil
	}
	t.deletes = append(t.deletes, pendingDelete{id: ref.id, ref: ref})
	return t.processDeletes()
}

// processDeletes drains the delete queue. Cascades are queued rather than
// recursed into.
func (t *Txn) processDeletes() error {
	for len(t.deletes) > 0 {
		pd := t.deletes[0]
		t.deletes = t.deletes[1:]
		if err := t.delete2(pd); err != nil {
			t.deletes = nil
			return err
		}
	}
	t.deletes = nil
	return nil
}

func (t *Txn) delete2(pd pendingDelete) error {
	d := t.db
	calls := &d.mu.calls
	if pd.member && pd.cascade <= 0 {
		return nil
	}
	ref := pd.ref
	if ref == nil {
		ref = t.refs.referenceForID(pd.id)
	}
	if (ref != nil && ref.isFlaggedForDelete(calls.id)) || t.isDeleted(pd.id) {
		return nil
	}
	s, err := t.currentSlot(pd.id)
	if err != nil {
		return err
	}
	if s.IsNull() {
		return nil
	}
	c, err := d.classOfSlot(s)
	if err != nil {
		return errors.Wrapf(err, "slotdb: deleting object %d", errors.Safe(pd.id))
	}
	cascade := pd.cascade
	if pd.member {
		cascade--
		if c.cfg.Collection {
			cascade += c.collectionUpdateDepth(d.opts) - 1
		}
	}

	var obj reflect.Value
	if ref != nil {
		if p, ok := ref.value(); ok {
			obj = p
			if cb, ok := p.Interface().(ObjectCanDelete); ok && !t.ask(cb.ObjectCanDelete) {
				return nil
			}
		}
		ref.flagForDelete(calls.id)
	}

	var children []int32
	if member := c.memberDeleteDepth(cascade, d.opts); member > 0 && c.stateOK() {
		_, payload, err := d.readFrame(s)
		if err != nil {
			return err
		}
		r := marshal.MakeReader(payload, nil)
		if children, err = r.ChildIDs(c.layout); err != nil {
			return errors.Wrapf(err, "slotdb: deleting object %d", errors.Safe(pd.id))
		}
		for _, child := range children {
			t.deletes = append(t.deletes, pendingDelete{id: child, cascade: member, member: true})
		}
	}

	t.ledger.SlotDelete(pd.id, s)
	t.extents.remove(c, pd.id)
	d.mu.metrics.deletes++
	if obj.IsValid() {
		if cb, ok := obj.Interface().(ObjectOnDelete); ok {
			t.notify(cb.ObjectOnDelete)
		}
	}
	return nil
}

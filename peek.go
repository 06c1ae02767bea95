// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/activation"
	"github.com/cockroachdb/slotdb/internal/marshal"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/swiss"
)

// PeekPersisted returns a copy of the stored state of obj, read down to
// depth without touching the transaction's reference system. With committed
// set the last committed state is read, otherwise the state including the
// transaction's own pending changes. References beyond depth are left nil.
func (t *Txn) PeekPersisted(obj any, depth int, committed bool) (any, error) {
	d := t.db
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	ref := t.referenceForObjectLocked(obj)
	if ref == nil || ref.id <= 0 {
		return nil, errors.Wrap(ErrNotFound, "slotdb: object is not stored")
	}
	pk := &peeker{t: t, committed: committed, seen: swiss.New[int32, reflect.Value](16)}
	p, err := pk.peek(ref.id, activation.MakeLegacy(depth, activation.Peek))
	if err != nil {
		return nil, err
	}
	if !p.IsValid() {
		return nil, errNotFound(ref.id)
	}
	return p.Interface(), nil
}

// peeker materializes detached copies of stored objects. Objects reached
// more than once within a peek share a single copy.
type peeker struct {
	t         *Txn
	committed bool
	seen      *swiss.Map[int32, reflect.Value]
}

func (pk *peeker) slotOf(id int32) (slot.Slot, error) {
	if pk.committed {
		return pk.t.db.readPointer(id)
	}
	if pk.t.isDeleted(id) {
		return slot.Zero, nil
	}
	return pk.t.currentSlot(id)
}

func (pk *peeker) peek(id int32, depth activation.Depth) (reflect.Value, error) {
	if p, ok := pk.seen.Get(id); ok {
		return p, nil
	}
	if !depth.RequiresActivation() {
		return reflect.Value{}, nil
	}
	d := pk.t.db
	s, err := pk.slotOf(id)
	if err != nil || s.IsNull() {
		return reflect.Value{}, err
	}
	f, payload, err := d.readFrame(s)
	if err != nil {
		return reflect.Value{}, err
	}
	c, err := d.mu.classes.forID(f.ClassID)
	if err != nil {
		return reflect.Value{}, err
	}
	if !c.stateOK() {
		return reflect.Value{}, errUnboundClass(c)
	}
	p := c.layout.New()
	pk.seen.Put(id, p)
	r := marshal.MakeReader(payload, &peekResolver{pk: pk, depth: depth.Descend(c)})
	if err := r.Unmarshal(c.layout, p.Elem()); err != nil {
		return reflect.Value{}, errors.Wrapf(err, "slotdb: peeking object %d", errors.Safe(id))
	}
	return p, nil
}

type peekResolver struct {
	pk    *peeker
	depth activation.Depth
}

// Resolve implements marshal.Resolver.
func (r *peekResolver) Resolve(id int32, _ *marshal.Layout) (reflect.Value, error) {
	return r.pk.peek(id, r.depth)
}

// LayoutForClass implements marshal.Resolver.
func (r *peekResolver) LayoutForClass(classID int32) (*marshal.Layout, error) {
	c, err := r.pk.t.db.mu.classes.forID(classID)
	if err != nil {
		return nil, err
	}
	if c.layout == nil {
		return nil, errUnboundClass(c)
	}
	return c.layout, nil
}

// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"encoding/binary"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/activation"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/marshal"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/slotdb/vfs"
)

type pendingActivation struct {
	t     *Txn
	ref   *ObjectReference
	depth activation.Depth
}

type pendingStore struct {
	t     *Txn
	ref   *ObjectReference
	depth int
}

// callState scopes top-level calls. Every reference handled during a call is
// stamped with the call's ID, which breaks cycles without a visited set.
// Work that would recurse deeper than Options.MaxStackDepth, or that is
// requested by object callbacks, is queued and drained once the outermost
// call completes.
type callState struct {
	id    int64
	depth int

	stillToActivate   []pendingActivation
	stillToDeactivate []pendingActivation
	stillToSet        []pendingStore
}

func (c *callState) clearQueues() {
	c.stillToActivate = nil
	c.stillToDeactivate = nil
	c.stillToSet = nil
}

func (c *callState) queued() int {
	return len(c.stillToActivate) + len(c.stillToDeactivate) + len(c.stillToSet)
}

// beginTopLevelCall must be paired with endTopLevelCall. A new call ID is
// only generated by the outermost call.
func (d *DB) beginTopLevelCall() {
	c := &d.mu.calls
	if c.depth == 0 {
		c.id++
		d.pollCollectedLocked()
	}
	c.depth++
}

// completeTopLevelCall drains the queued work if the completing call is the
// outermost one. A failed call discards the queued work.
func (d *DB) completeTopLevelCall(err error) error {
	c := &d.mu.calls
	if c.depth != 1 {
		return err
	}
	if err == nil {
		err = d.drainQueues()
	}
	if err != nil {
		c.clearQueues()
	}
	return err
}

func (d *DB) endTopLevelCall() {
	d.mu.calls.depth--
}

// drainQueues processes queued work until none is left. Stores run first so
// that objects that were assigned an ID are written before anything reads
// them back.
func (d *DB) drainQueues() error {
	c := &d.mu.calls
	for {
		switch {
		case len(c.stillToSet) > 0:
			p := c.stillToSet[0]
			c.stillToSet = c.stillToSet[1:]
			if err := p.t.storeReference(p.ref, p.depth); err != nil {
				return err
			}
		case len(c.stillToActivate) > 0:
			p := c.stillToActivate[0]
			c.stillToActivate = c.stillToActivate[1:]
			if err := p.t.activateReference(p.ref, p.depth); err != nil {
				return err
			}
		case len(c.stillToDeactivate) > 0:
			p := c.stillToDeactivate[0]
			c.stillToDeactivate = c.stillToDeactivate[1:]
			if err := p.t.deactivateReference(p.ref, p.depth); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// atStackLimit returns true if recursing further would exceed the stack
// bound.
func (d *DB) atStackLimit() bool {
	return d.mu.calls.depth >= d.opts.MaxStackDepth
}

// activateReference populates the object of ref according to depth. Objects
// that are already active are not read again, except when refreshing, but
// the walk still descends into their children.
func (t *Txn) activateReference(ref *ObjectReference, depth activation.Depth) error {
	if !depth.RequiresActivation() {
		return nil
	}
	d := t.db
	calls := &d.mu.calls
	if ref.isFlaggedAsHandled(calls.id) {
		return nil
	}
	if d.atStackLimit() {
		calls.stillToActivate = append(calls.stillToActivate, pendingActivation{t: t, ref: ref, depth: depth})
		return nil
	}
	p, ok := ref.value()
	if !ok {
		return nil
	}
	ref.flagAsHandled(calls.id)
	calls.depth++
	defer func() { calls.depth-- }()

	if ref.IsActive() && depth.Mode() != activation.Refresh {
		return t.descend(ref, p, depth.Descend(ref.class), t.activateReference)
	}
	return t.readInto(ref, p, depth)
}

// readInto reads the current slot of ref into its object. Instances of
// classes whose state is not OK are left inactive.
func (t *Txn) readInto(ref *ObjectReference, p reflect.Value, depth activation.Depth) error {
	d := t.db
	c := ref.class
	if !c.stateOK() {
		return nil
	}
	if cb, ok := p.Interface().(ObjectCanActivate); ok && !t.ask(cb.ObjectCanActivate) {
		return nil
	}
	s, err := t.currentSlot(ref.id)
	if err != nil {
		return err
	}
	if s.IsNull() {
		return nil
	}
	f, payload, err := d.readFrame(s)
	if err != nil {
		return errors.Wrapf(err, "slotdb: activating object %d", errors.Safe(ref.id))
	}
	if f.ClassID != c.id {
		return errors.AssertionFailedf("slotdb: object %d is stored as class %d, not %d",
			errors.Safe(ref.id), errors.Safe(f.ClassID), errors.Safe(c.id))
	}
	ref.setState(refProcessing, true)
	r := marshal.MakeReader(payload, &resolver{t: t, depth: depth.Descend(c)})
	err = r.Unmarshal(c.layout, p.Elem())
	ref.setState(refProcessing, false)
	if err != nil {
		return errors.Wrapf(err, "slotdb: activating object %d", errors.Safe(ref.id))
	}
	ref.setState(refActive, true)
	d.mu.metrics.activations++
	if cb, ok := p.Interface().(ObjectOnActivate); ok {
		t.notify(cb.ObjectOnActivate)
	}
	return nil
}

// descend applies fn to the references of the objects p refers to.
func (t *Txn) descend(
	ref *ObjectReference,
	p reflect.Value,
	childDepth activation.Depth,
	fn func(*ObjectReference, activation.Depth) error,
) error {
	if !childDepth.RequiresActivation() || ref.class.layout == nil {
		return nil
	}
	var children []*ObjectReference
	t.db.reg.VisitReferences(ref.class.layout, p.Elem(), func(cp reflect.Value, _ *marshal.Layout) {
		if child := t.refs.referenceForObject(cp); child != nil {
			children = append(children, child)
		}
	})
	for _, child := range children {
		if err := fn(child, childDepth); err != nil {
			return err
		}
	}
	return nil
}

// deactivateReference clears the object of ref and, depth permitting, its
// children. A vetoed deactivation marks the reference inactive without
// touching the object.
func (t *Txn) deactivateReference(ref *ObjectReference, depth activation.Depth) error {
	if !depth.RequiresActivation() {
		return nil
	}
	d := t.db
	calls := &d.mu.calls
	if ref.isFlaggedAsHandled(calls.id) {
		return nil
	}
	if d.atStackLimit() {
		calls.stillToDeactivate = append(calls.stillToDeactivate, pendingActivation{t: t, ref: ref, depth: depth})
		return nil
	}
	p, ok := ref.value()
	if !ok {
		return nil
	}
	ref.flagAsHandled(calls.id)
	if cb, ok := p.Interface().(ObjectCanDeactivate); ok && !t.ask(cb.ObjectCanDeactivate) {
		ref.setState(refActive, false)
		return nil
	}
	calls.depth++
	defer func() { calls.depth-- }()

	// The children are collected before the fields holding them are cleared.
	var children []*ObjectReference
	childDepth := depth.Descend(ref.class)
	if err := t.descend(ref, p, childDepth, func(child *ObjectReference, _ activation.Depth) error {
		children = append(children, child)
		return nil
	}); err != nil {
		return err
	}
	if ref.class.layout != nil {
		ref.class.layout.Clear(p.Elem())
	}
	ref.setState(refActive, false)
	d.mu.metrics.deactivations++
	if cb, ok := p.Interface().(ObjectOnDeactivate); ok {
		t.notify(cb.ObjectOnDeactivate)
	}
	for _, child := range children {
		if err := t.deactivateReference(child, childDepth); err != nil {
			return err
		}
	}
	return nil
}

// resolver materializes the objects referenced by a slot being read.
type resolver struct {
	t     *Txn
	depth activation.Depth
}

var _ marshal.Resolver = (*resolver)(nil)

// Resolve implements marshal.Resolver.
func (r *resolver) Resolve(id int32, _ *marshal.Layout) (reflect.Value, error) {
	return r.t.resolve(id, r.depth)
}

// LayoutForClass implements marshal.Resolver.
func (r *resolver) LayoutForClass(classID int32) (*marshal.Layout, error) {
	c, err := r.t.db.mu.classes.forID(classID)
	if err != nil {
		return nil, err
	}
	if c.layout == nil {
		return nil, errUnboundClass(c)
	}
	return c.layout, nil
}

// resolve returns the object stored under id, instantiating it if the
// transaction holds no reference to it yet, and activates it to depth. A
// deleted object resolves to the invalid Value.
func (t *Txn) resolve(id int32, depth activation.Depth) (reflect.Value, error) {
	ref, p, err := t.objectForID(id)
	if err != nil || ref == nil {
		return reflect.Value{}, err
	}
	if err := t.activateReference(ref, depth); err != nil {
		return reflect.Value{}, err
	}
	return p, nil
}

// objectForID returns the reference and object for id, instantiating an
// inactive object if needed. It returns a nil reference if id does not hold
// a live object.
func (t *Txn) objectForID(id int32) (*ObjectReference, reflect.Value, error) {
	if ref := t.refs.referenceForID(id); ref != nil {
		if p, ok := ref.value(); ok {
			if t.isDeleted(id) {
				return nil, reflect.Value{}, nil
			}
			return ref, p, nil
		}
		// Collected but not yet polled.
		t.refs.removeReference(ref)
	}
	s, err := t.currentSlot(id)
	if err != nil || s.IsNull() {
		return nil, reflect.Value{}, err
	}
	c, err := t.db.classOfSlot(s)
	if err != nil {
		return nil, reflect.Value{}, errors.Wrapf(err, "slotdb: object %d", errors.Safe(id))
	}
	if c.layout == nil {
		return nil, reflect.Value{}, errUnboundClass(c)
	}
	p := c.layout.New()
	ref := newObjectReference(p, c)
	ref.id = id
	t.refs.addExistingReference(ref)
	return ref, p, nil
}

// classOfSlot reads the class ID that prefixes the frame in s.
func (d *DB) classOfSlot(s slot.Slot) (*class, error) {
	var buf [4]byte
	if s.Length < marshal.FrameHeaderLen {
		return nil, base.CorruptionErrorf("slotdb: slot %s is too short to hold an object", s)
	}
	if err := vfs.ReadFull(d.file, buf[:], d.blocks.Offset(s.Address)); err != nil {
		return nil, errors.Wrapf(err, "slotdb: reading slot %s", s)
	}
	return d.mu.classes.forID(int32(binary.BigEndian.Uint32(buf[:])))
}

func errUnboundClass(c *class) error {
	return errors.Errorf("slotdb: no Go type registered for class %s", errors.Safe(c.name))
}

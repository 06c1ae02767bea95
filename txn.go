// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/activation"
	"github.com/cockroachdb/slotdb/internal/ledger"
	"github.com/cockroachdb/slotdb/internal/slot"
)

// Txn is a transaction. Every transaction has its own reference system, so
// an object stored or read through one transaction is unknown to the others
// until it is read again. Changes become visible to other transactions once
// committed.
//
// All Txns of a DB share the DB's lock: their methods may be called
// concurrently but do not run in parallel.
type Txn struct {
	db *DB
	// parent is the system transaction for user transactions and nil for
	// the system transaction itself.
	parent  *Txn
	ledger  *ledger.Ledger
	refs    *referenceSystem
	deletes []pendingDelete
	extents *extentParticipant

	participants []TransactionParticipant
	listeners    []TransactionListener
	closed       bool
}

func (d *DB) newTxnLocked(parent *Txn) *Txn {
	t := &Txn{
		db:      d,
		parent:  parent,
		ledger:  ledger.New(&d.mu.shared, (*slotFreer)(d)),
		refs:    newReferenceSystem(d),
		extents: newExtentParticipant(),
	}
	if parent != nil {
		d.mu.txns = append(d.mu.txns, t)
	}
	return t
}

// NewTxn starts a transaction that is independent of the DB's default
// transaction. It must be closed.
func (d *DB) NewTxn() (*Txn, error) {
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	if d.mu.closed {
		return nil, ErrClosed
	}
	return d.newTxnLocked(d.mu.systemTxn), nil
}

// checkOpen requires d.mu.
func (t *Txn) checkOpen() error {
	if t.db.mu.closed {
		return ErrClosed
	}
	if t.closed {
		return errors.Wrap(ErrClosed, "slotdb: transaction")
	}
	if err := t.db.mu.failed; err != nil {
		return errors.Wrap(err, "slotdb: a previous commit failed")
	}
	return nil
}

func (t *Txn) checkWritable() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.db.opts.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// topLevelCall runs fn as a top-level call.
func (t *Txn) topLevelCall(fn func() error) error {
	d := t.db
	d.beginTopLevelCall()
	defer d.endTopLevelCall()
	return d.completeTopLevelCall(fn())
}

// currentSlot returns the slot id points to as seen by t: the pending
// change of t or of its parent, or else the committed pointer.
func (t *Txn) currentSlot(id int32) (slot.Slot, error) {
	for tx := t; tx != nil; tx = tx.parent {
		if c := tx.ledger.Find(id); c != nil && c.IsSetPointer() {
			return c.NewSlot, nil
		}
	}
	return t.db.readPointer(id)
}

func (t *Txn) isDeleted(id int32) bool {
	return t.ledger.IsDeleted(id)
}

// Store stores obj, a pointer to a struct, and returns its ID. Objects
// reachable from obj that were never stored are stored too. Stored objects
// reachable from obj are updated down to the update depth of obj's class.
func (t *Txn) Store(obj any) (int32, error) {
	return t.StoreDepth(obj, -1)
}

// StoreDepth is like Store with an explicit update depth. A depth of 1
// updates obj only.
func (t *Txn) StoreDepth(obj any, depth int) (int32, error) {
	d := t.db
	if err := d.lock(); err != nil {
		return 0, err
	}
	defer d.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	var id int32
	err := t.topLevelCall(func() error {
		var err error
		id, err = t.storeObject(obj, depth)
		return err
	})
	return id, err
}

// Activate populates the fields of obj, and of the objects it references,
// down to depth.
func (t *Txn) Activate(obj any, depth int) error {
	return t.activate(obj, depth, activation.Activate)
}

// Refresh rereads obj and the objects it references down to depth,
// discarding in-memory changes.
func (t *Txn) Refresh(obj any, depth int) error {
	return t.activate(obj, depth, activation.Refresh)
}

func (t *Txn) activate(obj any, depth int, mode activation.Mode) error {
	d := t.db
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	ref := t.referenceForObjectLocked(obj)
	if ref == nil {
		return nil
	}
	return t.topLevelCall(func() error {
		return t.activateReference(ref, activation.For(ref.class, depth, mode))
	})
}

// Deactivate clears the fields of obj, and of the objects it references,
// down to depth. Deactivated objects keep their identity.
func (t *Txn) Deactivate(obj any, depth int) error {
	d := t.db
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	ref := t.referenceForObjectLocked(obj)
	if ref == nil {
		return nil
	}
	return t.topLevelCall(func() error {
		return t.deactivateReference(ref, activation.MakeLegacy(depth, activation.Deactivate))
	})
}

// Delete deletes obj. The objects it references are deleted with it if its
// class cascades deletes.
func (t *Txn) Delete(obj any) error {
	d := t.db
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	return t.topLevelCall(func() error {
		return t.deleteObject(obj)
	})
}

// GetByID returns the object stored under id, activated to the configured
// activation depth. It returns an error marked ErrNotFound if id holds no
// object.
func (t *Txn) GetByID(id int32) (any, error) {
	d := t.db
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if id <= 0 || t.isDeleted(id) {
		return nil, errNotFound(id)
	}
	var obj any
	err := t.topLevelCall(func() error {
		ref, p, err := t.objectForID(id)
		if err != nil {
			return err
		}
		if ref == nil {
			return errNotFound(id)
		}
		if err := t.activateReference(ref, activation.For(ref.class, d.opts.ActivationDepth, activation.Activate)); err != nil {
			return err
		}
		obj = p.Interface()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// IDOf returns the ID of obj, or zero if obj is not stored by t.
func (t *Txn) IDOf(obj any) int32 {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	return t.idOf(reflect.ValueOf(obj))
}

// IsStored returns true if obj is stored by t and not deleted.
func (t *Txn) IsStored(obj any) bool {
	return t.IDOf(obj) > 0
}

// IsActive returns true if obj is known to t and its fields are populated.
func (t *Txn) IsActive(obj any) bool {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	ref := t.referenceForObjectLocked(obj)
	return ref != nil && ref.IsActive()
}

// ReferenceForID returns the reference t holds for id, or nil.
func (t *Txn) ReferenceForID(id int32) *ObjectReference {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	return t.refs.referenceForID(id)
}

// ReferenceForObject returns the reference t holds for obj, or nil.
func (t *Txn) ReferenceForObject(obj any) *ObjectReference {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	return t.referenceForObjectLocked(obj)
}

func (t *Txn) referenceForObjectLocked(obj any) *ObjectReference {
	p := reflect.ValueOf(obj)
	if !p.IsValid() || p.Kind() != reflect.Pointer || p.IsNil() {
		return nil
	}
	return t.refs.referenceForObject(p)
}

// Purge removes obj from every transaction's reference system. Reading its
// ID again yields a new object.
func (t *Txn) Purge(obj any) {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	ref := t.referenceForObjectLocked(obj)
	if ref == nil {
		return
	}
	id := ref.id
	t.refs.removeReference(ref)
	if id > 0 {
		d.removeReferencesLocked(id)
	}
}

// removeReferencesLocked drops the references to id of every transaction.
func (d *DB) removeReferencesLocked(id int32) {
	for _, t := range d.mu.txns {
		if ref := t.refs.referenceForID(id); ref != nil {
			t.refs.removeReference(ref)
		}
	}
}

// InstanceIDs returns the IDs of the stored instances of the struct type
// prototype points to, as seen by t.
func (t *Txn) InstanceIDs(prototype any) ([]int32, error) {
	d := t.db
	if err := d.lock(); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	cfg := ClassConfig{Prototype: prototype}
	typ, err := cfg.structType()
	if err != nil {
		return nil, err
	}
	c, err := d.mu.classes.bind(d.reg, typ, nil)
	if err != nil {
		return nil, err
	}
	return t.extents.instanceIDs(c), nil
}

// Enlist adds p to the participants of the transaction's commits.
func (t *Txn) Enlist(p TransactionParticipant) {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	t.participants = append(t.participants, p)
}

// AddListener adds l to the listeners of the transaction.
func (t *Txn) AddListener(l TransactionListener) {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// SetSemaphore acquires the named semaphore for t, waiting up to timeout
// for another transaction to release it. It returns false if the semaphore
// could not be acquired. Semaphores are reentrant.
func (t *Txn) SetSemaphore(name string, timeout time.Duration) (bool, error) {
	d := t.db
	if err := d.lock(); err != nil {
		return false, err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	return d.setSemaphoreLocked(t, name, timeout)
}

// ReleaseSemaphore releases the named semaphore if t holds it.
func (t *Txn) ReleaseSemaphore(name string) {
	d := t.db
	d.mustLock()
	defer d.mu.Unlock()
	d.releaseSemaphoreLocked(t, name)
}

// Commit makes the changes of the transaction durable and visible to other
// transactions.
func (t *Txn) Commit() error {
	d := t.db
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.commitLocked()
}

// Rollback discards the changes of the transaction. Objects stored for the
// first time by the transaction lose their IDs.
func (t *Txn) Rollback() error {
	d := t.db
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.rollbackLocked()
	return nil
}

// Close rolls back the transaction's pending changes and releases its
// resources and semaphores.
func (t *Txn) Close() error {
	d := t.db
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if t.closed {
		return nil
	}
	if t == d.mu.defaultTxn {
		return errors.AssertionFailedf("slotdb: the default transaction is closed with the DB")
	}
	if !d.mu.closed {
		t.rollbackLocked()
	}
	t.closeLocked()
	return nil
}

func (t *Txn) closeLocked() {
	d := t.db
	for _, p := range t.participants {
		d.callout(func() { p.Dispose(t) })
	}
	t.extents.Dispose(t)
	t.participants = nil
	t.listeners = nil
	t.refs.discard()
	d.releaseAllSemaphoresLocked(t)
	for i, tx := range d.mu.txns {
		if tx == t {
			d.mu.txns = append(d.mu.txns[:i], d.mu.txns[i+1:]...)
			break
		}
	}
	t.closed = true
}

// errNotFound reports a missing object.
func errNotFound(id int32) error {
	return errors.Wrapf(ErrNotFound, "slotdb: id %d", errors.Safe(id))
}

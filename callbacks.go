// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"bytes"
	"reflect"
	"runtime"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/activation"
	"github.com/cockroachdb/slotdb/internal/base"
)

// Stored objects may implement any of the interfaces below to observe or
// veto what happens to them. Callbacks run while the DB is locked: they must
// not call methods of DB or Txn and use the CallbackTxn they are passed
// instead. Such calls fail with ErrReentrantCall, or panic with it for
// methods without an error result.

// ObjectCanActivate vetoes the activation of an object by returning false.
type ObjectCanActivate interface {
	ObjectCanActivate(t CallbackTxn) bool
}

// ObjectCanDeactivate vetoes the deactivation of an object by returning
// false. A vetoed object is marked inactive but keeps its fields.
type ObjectCanDeactivate interface {
	ObjectCanDeactivate(t CallbackTxn) bool
}

// ObjectCanNew vetoes the first store of an object by returning false.
type ObjectCanNew interface {
	ObjectCanNew(t CallbackTxn) bool
}

// ObjectCanUpdate vetoes an update of a stored object by returning false.
type ObjectCanUpdate interface {
	ObjectCanUpdate(t CallbackTxn) bool
}

// ObjectCanDelete vetoes the delete of an object by returning false.
type ObjectCanDelete interface {
	ObjectCanDelete(t CallbackTxn) bool
}

// ObjectOnActivate is notified after an object was read.
type ObjectOnActivate interface {
	ObjectOnActivate(t CallbackTxn)
}

// ObjectOnDeactivate is notified after an object was cleared.
type ObjectOnDeactivate interface {
	ObjectOnDeactivate(t CallbackTxn)
}

// ObjectOnNew is notified after an object was stored for the first time.
type ObjectOnNew interface {
	ObjectOnNew(t CallbackTxn)
}

// ObjectOnUpdate is notified after a stored object was written again.
type ObjectOnUpdate interface {
	ObjectOnUpdate(t CallbackTxn)
}

// ObjectOnDelete is notified after an object was deleted.
type ObjectOnDelete interface {
	ObjectOnDelete(t CallbackTxn)
}

// CallbackTxn is the view of a transaction available to object callbacks.
// Requested work is queued and carried out before the operation that
// triggered the callback returns.
type CallbackTxn struct {
	t *Txn
}

func (t *Txn) callbacks() CallbackTxn {
	return CallbackTxn{t: t}
}

// callout runs fn, which calls user code, while the DB is locked. Calls of
// DB and Txn methods made by fn on the same goroutine fail instead of
// deadlocking.
func (d *DB) callout(fn func()) {
	prev := d.callbackGoroutine.Swap(goroutineID())
	defer d.callbackGoroutine.Store(prev)
	fn()
}

// ask runs a veto callback.
func (t *Txn) ask(fn func(CallbackTxn) bool) bool {
	ok := true
	t.db.callout(func() { ok = fn(t.callbacks()) })
	return ok
}

// notify runs a notification callback.
func (t *Txn) notify(fn func(CallbackTxn)) {
	t.db.callout(func() { fn(t.callbacks()) })
}

// lock acquires d.mu for a DB or Txn method. It fails if the calling
// goroutine already holds d.mu because it is running a callback.
func (d *DB) lock() error {
	if g := d.callbackGoroutine.Load(); g != 0 && g == goroutineID() {
		return ErrReentrantCall
	}
	d.mu.Lock()
	return nil
}

// mustLock is like lock for methods without an error result.
func (d *DB) mustLock() {
	if err := d.lock(); err != nil {
		panic(err)
	}
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID returns the ID of the calling goroutine, parsed from the
// first line of its stack trace.
func goroutineID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		panic(errors.AssertionFailedf("slotdb: unexpected stack trace header %q", buf[:]))
	}
	return id
}

// objectArg validates obj, an object passed to a CallbackTxn method.
func objectArg(obj any) (reflect.Value, error) {
	p := reflect.ValueOf(obj)
	if !p.IsValid() || p.Kind() != reflect.Pointer || p.IsNil() {
		return reflect.Value{}, errors.Mark(
			errors.Newf("slotdb: %T is not a non-nil pointer", obj), base.ErrNotStorable)
	}
	return p, nil
}

// Activate schedules obj to be activated to depth. Values that are not
// non-nil pointers are ignored.
func (c CallbackTxn) Activate(obj any, depth int) {
	ref := c.t.referenceForObjectLocked(obj)
	if ref == nil {
		return
	}
	calls := &c.t.db.mu.calls
	calls.stillToActivate = append(calls.stillToActivate, pendingActivation{
		t:     c.t,
		ref:   ref,
		depth: activation.For(ref.class, depth, activation.Activate),
	})
}

// Deactivate schedules obj to be deactivated to depth. Values that are not
// non-nil pointers are ignored.
func (c CallbackTxn) Deactivate(obj any, depth int) {
	ref := c.t.referenceForObjectLocked(obj)
	if ref == nil {
		return
	}
	calls := &c.t.db.mu.calls
	calls.stillToDeactivate = append(calls.stillToDeactivate, pendingActivation{
		t:     c.t,
		ref:   ref,
		depth: activation.MakeLegacy(depth, activation.Deactivate),
	})
}

// Store schedules obj to be stored and returns its ID. Objects that were not
// stored before are assigned an ID right away.
func (c CallbackTxn) Store(obj any) (int32, error) {
	t := c.t
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	p, err := objectArg(obj)
	if err != nil {
		return 0, err
	}
	if ref := t.refs.referenceForObject(p); ref != nil {
		calls := &t.db.mu.calls
		calls.stillToSet = append(calls.stillToSet, pendingStore{
			t:     t,
			ref:   ref,
			depth: ref.class.updateDepth(t.db.opts),
		})
		return ref.id, nil
	}
	cls, err := t.db.classOf(p)
	if err != nil {
		return 0, err
	}
	return t.linkID(p, cls.updateDepth(t.db.opts))
}

// IDOf returns the ID of obj, or zero if it is not stored.
func (c CallbackTxn) IDOf(obj any) int32 {
	return c.t.idOf(reflect.ValueOf(obj))
}

// IsStored returns true if obj is stored and not deleted.
func (c CallbackTxn) IsStored(obj any) bool {
	return c.t.idOf(reflect.ValueOf(obj)) > 0
}

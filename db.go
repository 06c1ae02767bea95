// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package slotdb provides an embedded object database. Pointers to Go structs
// are stored in a single block-addressed file; each stored object is
// identified by a positive 32-bit ID. Changes are made within transactions
// and committed atomically through a write-ahead transaction log.
package slotdb // import "github.com/cockroachdb/slotdb"

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/freespace"
	"github.com/cockroachdb/slotdb/internal/invariants"
	"github.com/cockroachdb/slotdb/internal/ledger"
	"github.com/cockroachdb/slotdb/internal/marshal"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/slotdb/vfs"
)

var (
	// ErrNotFound is returned when an ID does not hold a stored object.
	ErrNotFound = base.ErrNotFound
	// ErrClosed is returned when an operation is performed on a closed DB or
	// transaction.
	ErrClosed = base.ErrClosed
	// ErrReadOnly is returned when a write operation is performed on a
	// read-only DB.
	ErrReadOnly = base.ErrReadOnly
	// ErrNotStorable is returned when an object cannot be stored, such as a
	// value that is not a pointer to a struct.
	ErrNotStorable = base.ErrNotStorable
	// ErrReentrantCall is returned when an object callback, participant or
	// listener calls a method of the DB or of one of its transactions
	// instead of using the CallbackTxn it was passed.
	ErrReentrantCall = base.ErrReentrantCall
	// ErrCorruption is a marker to indicate that the file is corrupt.
	ErrCorruption = base.ErrCorruption
	// ErrIncompatibleFormat is returned when a file is not a database file
	// or was written by an unsupported format version.
	ErrIncompatibleFormat = base.ErrIncompatibleFormat
)

// DB is an open database file.
//
// The DB's methods operate on its default transaction, which is committed
// when the DB is closed. Independent transactions are started with NewTxn.
// It is safe to call the methods of a DB and of its transactions from
// concurrent goroutines; they are serialized by a single lock.
type DB struct {
	path     string
	opts     *Options
	fs       vfs.FS
	file     vfs.File
	fileLock *base.FileLock
	blocks   slot.Blocks
	reg      *marshal.Registry

	// collected receives the references of reclaimed objects from the
	// cleanup goroutine. It is ordered after mu.
	collected struct {
		sync.Mutex
		refs []*ObjectReference
	}

	closed invariants.CloseChecker

	// callbackGoroutine is the ID of the goroutine running a callback while
	// holding mu, or zero.
	callbackGoroutine atomic.Int64

	mu struct {
		sync.Mutex

		hdr header
		// fileLen is the block-aligned length of the file, including slots
		// that were allocated but not yet written.
		fileLen   int64
		freespace freespace.Manager
		// freespaceRecord is the persisted free list read at open.
		freespaceRecord slot.Slot
		// shared tracks committed slots that transactions schedule to be
		// freed at commit.
		shared  ledger.SharedSlots
		classes *classCollection

		systemTxn  *Txn
		defaultTxn *Txn
		// txns holds the open user transactions, including the default one.
		txns []*Txn

		sem     semaphores
		calls   callState
		metrics metricsState
		// failed is set when a commit failed after it began writing
		// pointers. The in-memory state no longer matches the file, which is
		// repaired by the next open.
		failed error
		closed bool
	}
}

// Path returns the name of the database file.
func (d *DB) Path() string {
	return d.path
}

// Txn returns the DB's default transaction.
func (d *DB) Txn() *Txn {
	// Set by Open and never changed.
	return d.mu.defaultTxn
}

// Store stores obj through the default transaction. See Txn.Store.
func (d *DB) Store(obj any) (int32, error) {
	return d.Txn().Store(obj)
}

// StoreDepth stores obj through the default transaction. See
// Txn.StoreDepth.
func (d *DB) StoreDepth(obj any, depth int) (int32, error) {
	return d.Txn().StoreDepth(obj, depth)
}

// Activate activates obj through the default transaction. See
// Txn.Activate.
func (d *DB) Activate(obj any, depth int) error {
	return d.Txn().Activate(obj, depth)
}

// Deactivate deactivates obj through the default transaction.
func (d *DB) Deactivate(obj any, depth int) error {
	return d.Txn().Deactivate(obj, depth)
}

// Refresh rereads obj through the default transaction.
func (d *DB) Refresh(obj any, depth int) error {
	return d.Txn().Refresh(obj, depth)
}

// Delete deletes obj through the default transaction.
func (d *DB) Delete(obj any) error {
	return d.Txn().Delete(obj)
}

// GetByID reads the object stored under id through the default
// transaction. See Txn.GetByID.
func (d *DB) GetByID(id int32) (any, error) {
	return d.Txn().GetByID(id)
}

// PeekPersisted returns a detached copy of the stored state of obj. See
// Txn.PeekPersisted.
func (d *DB) PeekPersisted(obj any, depth int, committed bool) (any, error) {
	return d.Txn().PeekPersisted(obj, depth, committed)
}

// IDOf returns the ID of obj in the default transaction.
func (d *DB) IDOf(obj any) int32 {
	return d.Txn().IDOf(obj)
}

// IsStored returns true if obj is stored in the default transaction.
func (d *DB) IsStored(obj any) bool {
	return d.Txn().IsStored(obj)
}

// IsActive returns true if obj is active in the default transaction.
func (d *DB) IsActive(obj any) bool {
	return d.Txn().IsActive(obj)
}

// Purge removes obj from the reference systems of all transactions.
func (d *DB) Purge(obj any) {
	d.Txn().Purge(obj)
}

// InstanceIDs returns the IDs of the stored instances of the struct type
// prototype points to.
func (d *DB) InstanceIDs(prototype any) ([]int32, error) {
	return d.Txn().InstanceIDs(prototype)
}

// Commit commits the default transaction.
func (d *DB) Commit() error {
	return d.Txn().Commit()
}

// Rollback rolls back the default transaction.
func (d *DB) Rollback() error {
	return d.Txn().Rollback()
}

// SetSemaphore acquires the named semaphore for the default transaction.
func (d *DB) SetSemaphore(name string, timeout time.Duration) (bool, error) {
	return d.Txn().SetSemaphore(name, timeout)
}

// ReleaseSemaphore releases the named semaphore held by the default
// transaction.
func (d *DB) ReleaseSemaphore(name string) {
	d.Txn().ReleaseSemaphore(name)
}

// PollCollected drops the cached references whose objects were reclaimed
// by the garbage collector and returns their number. It is only useful with
// Options.WeakReferences.
func (d *DB) PollCollected() int {
	d.mustLock()
	defer d.mu.Unlock()
	return d.pollCollectedLocked()
}

// Close commits the default transaction, rolls back any other open
// transaction and closes the file. The free list is persisted so that its
// space is reused after the next open.
//
// It is not safe to close a DB while other goroutines are using it.
func (d *DB) Close() error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()
	if d.mu.closed {
		return ErrClosed
	}
	info := CloseInfo{Path: d.path}
	var err error
	if !d.opts.ReadOnly && d.mu.failed == nil {
		if cerr := d.mu.defaultTxn.commitLocked(); cerr != nil {
			d.opts.EventListener.BackgroundError(cerr)
			err = firstError(err, cerr)
		}
	}
	for _, t := range slices.Clone(d.mu.txns) {
		if t != d.mu.defaultTxn && d.mu.failed == nil {
			t.rollbackLocked()
		}
		t.closeLocked()
	}
	d.mu.systemTxn.closeLocked()
	d.releaseAllSemaphoresLocked(nil)

	if !d.opts.ReadOnly && d.mu.failed == nil {
		if werr := d.writeFreespaceLocked(); werr != nil {
			d.opts.EventListener.BackgroundError(werr)
			err = firstError(err, werr)
		}
	}
	info.FileSize = d.mu.fileLen
	d.mu.closed = true
	d.closed.Close()
	err = firstError(err, d.file.Close())
	if d.fileLock != nil {
		err = firstError(err, d.fileLock.Close())
	}
	info.Err = err
	d.opts.EventListener.Closed(info)
	return err
}

// writeFreespaceLocked persists the free list and updates the header. The
// record and its pointer are appended to the file, so neither occupies a
// run of the list they describe.
func (d *DB) writeFreespaceLocked() error {
	d.mu.hdr.freespaceID = 0
	d.mu.hdr.freespaceLength = 0
	if buf := d.mu.freespace.Marshal(); buf != nil {
		record := d.appendSlot(len(buf))
		ptr := d.appendSlot(slot.PointerLength)
		if err := d.writeSlot(record, buf); err != nil {
			return err
		}
		if err := d.writePointer(ptr.Address, record); err != nil {
			return err
		}
		d.mu.hdr.freespaceID = ptr.Address
		d.mu.hdr.freespaceLength = record.Length
	}
	d.mu.hdr.accessTime = time.Now().UnixMilli()
	if err := d.writeHeader(); err != nil {
		return err
	}
	return d.syncFile()
}

func firstError(err0, err1 error) error {
	if err0 != nil {
		return err0
	}
	return err1
}

// errorWithPath annotates err with the database file name.
func errorWithPath(err error, path string) error {
	return errors.Wrapf(err, "slotdb: %s", errors.Safe(path))
}

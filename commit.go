// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"slices"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/ledger"
	"github.com/cockroachdb/slotdb/internal/slot"
)

// commitLocked commits t. It requires d.mu.
func (t *Txn) commitLocked() error {
	d := t.db
	if d.opts.ReadOnly {
		if t.ledger.Empty() {
			return nil
		}
		return ErrReadOnly
	}
	start := crtime.NowMono()
	for _, l := range t.listeners {
		d.callout(func() { l.PreCommit(t) })
	}
	var info CommitInfo
	err := t.topLevelCall(func() error {
		var err error
		info, err = t.commit()
		return err
	})
	info.Duration = start.Elapsed()
	info.Err = err
	if err == nil {
		d.mu.metrics.commits++
		d.mu.metrics.recordCommit(info)
	}
	d.opts.EventListener.CommitEnd(info)
	return err
}

// commit writes the pending changes of t and of the system transaction.
//
// Slots released by the commit are handed back to the allocator before any
// pointer is written, but cannot be reused before the commit completes: the
// DB lock is held throughout and the transaction log is allocated first. The
// pointers are written in three synced steps. First the log of all new
// pointers is written and both transaction pointers of the header are set
// to it. Then the pointers themselves are written. Finally the transaction
// pointers are cleared. A crash between the first and the last step is
// repaired at the next open by replaying the log.
func (t *Txn) commit() (CommitInfo, error) {
	d := t.db
	sys := d.mu.systemTxn
	var info CommitInfo
	if err := t.processDeletes(); err != nil {
		return info, err
	}

	if err := d.writeClassCollection(); err != nil {
		return info, err
	}
	participants := slices.Concat(sys.participants, t.participants, []TransactionParticipant{t.extents})
	for _, p := range participants {
		var err error
		d.callout(func() { err = p.Commit(t) })
		if err != nil {
			// Nothing of t has been written. Its pending changes are
			// discarded so that the failed commit leaves no half-applied
			// state behind.
			t.rollbackLocked()
			return info, errors.Wrap(err, "slotdb: commit participant")
		}
	}
	info.Participants = len(participants)
	// Participants may have changed the class collection.
	if err := d.writeClassCollection(); err != nil {
		return info, err
	}

	count := sys.ledger.CountSetPointer() + t.ledger.CountSetPointer()
	info.Pointers = count
	var logSlot slot.Slot
	if count > 0 {
		info.LogBytes = ledger.LogLength(count)
		if s, ok := d.mu.freespace.AllocateTransactionLogSlot(d.blocks.BytesToBlocks(int64(info.LogBytes))); ok {
			logSlot = d.blocks.ToNonBlocked(s)
		} else {
			logSlot = d.appendSlot(info.LogBytes)
		}
	}
	d.opts.EventListener.CommitBegin(info)

	sys.ledger.FreeDuringCommit(false)
	t.ledger.FreeDuringCommit(false)
	fs := d.mu.freespace
	fs.BeginCommit()
	fs.Commit()
	sys.ledger.FreeDuringCommit(true)
	t.ledger.FreeDuringCommit(true)
	if count > 0 {
		if err := d.writeCommitLog(logSlot, count, sys.ledger, t.ledger); err != nil {
			fs.EndCommit()
			d.mu.failed = err
			return info, err
		}
	}
	fs.EndCommit()
	if count > 0 {
		fs.FreeTransactionLogSlot(d.blocks.ToBlocked(logSlot))
	}

	var deleted []int32
	t.ledger.Traverse(func(c *ledger.SlotChange) {
		if c.IsDeleted() {
			deleted = append(deleted, c.ID)
		}
	})
	sys.ledger.Clear()
	t.ledger.Clear()
	t.refs.commit()
	for _, id := range deleted {
		d.removeReferencesLocked(id)
	}
	return info, nil
}

// writeCommitLog writes the log of the pointer changes of ledgers to
// logSlot and then the pointers themselves.
func (d *DB) writeCommitLog(logSlot slot.Slot, count int, ledgers ...*ledger.Ledger) error {
	w := ledger.MakeLogWriter(count)
	for _, l := range ledgers {
		l.Traverse(w.Add)
	}
	if _, err := d.file.WriteAt(w.Finish(), d.blocks.Offset(logSlot.Address)); err != nil {
		return errors.Wrap(err, "slotdb: writing transaction log")
	}
	if err := d.syncFile(); err != nil {
		return err
	}
	if err := d.writeTxPointers(logSlot.Address); err != nil {
		return err
	}
	if err := d.syncFile(); err != nil {
		return err
	}
	if fn := d.opts.private.testingBeforeWritePointers; fn != nil {
		fn()
	}
	for _, l := range ledgers {
		var err error
		l.Traverse(func(c *ledger.SlotChange) {
			if err == nil && c.IsSetPointer() {
				err = d.writePointer(c.ID, c.NewSlot)
			}
		})
		if err != nil {
			return err
		}
	}
	if err := d.syncFile(); err != nil {
		return err
	}
	if err := d.writeTxPointers(0); err != nil {
		return err
	}
	return d.syncFile()
}

// rollbackLocked discards the pending changes of t. It requires d.mu.
func (t *Txn) rollbackLocked() {
	d := t.db
	for _, p := range t.participants {
		d.callout(func() { p.Rollback(t) })
	}
	t.extents.Rollback(t)
	info := RollbackInfo{Changes: t.ledger.Len()}
	t.ledger.Rollback()
	info.References = t.refs.rollback()
	t.deletes = nil
	for _, l := range t.listeners {
		d.callout(func() { l.PostRollback(t) })
	}
	d.mu.metrics.rollbacks++
	d.opts.EventListener.Rollback(info)
}

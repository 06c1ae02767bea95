// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"cmp"
	"slices"

	"github.com/cockroachdb/swiss"
)

// TransactionParticipant takes part in the commit of a transaction it was
// enlisted in. Commit runs before any pointer of the transaction is written;
// an error aborts the commit. Participants are disposed of when the
// transaction closes. Participant methods run while the DB is locked and
// must not call back into the DB.
type TransactionParticipant interface {
	Commit(t *Txn) error
	Rollback(t *Txn)
	Dispose(t *Txn)
}

// TransactionListener observes the commits and rollbacks of a transaction.
// Its methods run while the DB is locked and must not call back into the DB.
type TransactionListener interface {
	// PreCommit is called before a commit starts.
	PreCommit(t *Txn)
	// PostRollback is called after a rollback completes.
	PostRollback(t *Txn)
}

// extentParticipant applies the instance additions and removals of one
// transaction to the class extents when it commits.
type extentParticipant struct {
	added   *swiss.Map[int32, *class]
	removed *swiss.Map[int32, *class]
}

var _ TransactionParticipant = (*extentParticipant)(nil)

// extentMapCapacity is the initial capacity of the per-transaction extent
// maps. Empty swiss maps share their backing groups, so the maps are always
// allocated with room and replaced rather than cleared.
const extentMapCapacity = 8

func newExtentParticipant() *extentParticipant {
	e := &extentParticipant{}
	e.reset()
	return e
}

func (e *extentParticipant) reset() {
	e.added = swiss.New[int32, *class](extentMapCapacity)
	e.removed = swiss.New[int32, *class](extentMapCapacity)
}

func (e *extentParticipant) add(c *class, id int32) {
	e.removed.Delete(id)
	e.added.Put(id, c)
}

func (e *extentParticipant) remove(c *class, id int32) {
	if _, ok := e.added.Get(id); ok {
		e.added.Delete(id)
		return
	}
	e.removed.Put(id, c)
}

func (e *extentParticipant) empty() bool {
	return e.added.Len() == 0 && e.removed.Len() == 0
}

// Commit implements TransactionParticipant.
func (e *extentParticipant) Commit(t *Txn) error {
	if e.empty() {
		return nil
	}
	e.added.All(func(id int32, c *class) bool {
		c.extent.Set(id)
		return true
	})
	e.removed.All(func(id int32, c *class) bool {
		c.extent.Delete(id)
		return true
	})
	t.db.mu.classes.dirty = true
	e.clear()
	return nil
}

// Rollback implements TransactionParticipant.
func (e *extentParticipant) Rollback(*Txn) {
	e.clear()
}

// Dispose implements TransactionParticipant.
func (e *extentParticipant) Dispose(*Txn) {
	e.clear()
}

func (e *extentParticipant) clear() {
	if !e.empty() {
		e.reset()
	}
}

// instanceIDs returns the IDs of the instances of c as seen by the
// transaction, in ascending order.
func (e *extentParticipant) instanceIDs(c *class) []int32 {
	ids := make([]int32, 0, c.extent.Len()+e.added.Len())
	c.extent.Ascend(func(id int32) bool {
		if _, ok := e.removed.Get(id); !ok {
			ids = append(ids, id)
		}
		return true
	})
	e.added.All(func(id int32, ac *class) bool {
		if ac == c {
			ids = append(ids, id)
		}
		return true
	})
	slices.SortFunc(ids, cmp.Compare[int32])
	return slices.Compact(ids)
}

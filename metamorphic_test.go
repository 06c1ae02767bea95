// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"context"
	"fmt"
	"maps"
	randv1 "math/rand"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/cockroachdb/metamorphic"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/stretchr/testify/require"
)

// randomOpsModel tracks the counts of named items as they should be seen by
// the default transaction (pending) and by any other transaction
// (committed).
type randomOpsModel struct {
	committed map[string]int
	pending   map[string]int
	ids       map[string]int32
	// objs holds the objects of the default transaction that were read or
	// stored since the last reopen or rollback.
	objs map[string]*item
}

func (m *randomOpsModel) names(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *randomOpsModel) idsOf(counts map[string]int) []int32 {
	ids := make([]int32, 0, len(counts))
	for name := range counts {
		ids = append(ids, m.ids[name])
	}
	slices.Sort(ids)
	return ids
}

// reset makes the pending state match the committed one and forgets the
// IDs of names that were never committed.
func (m *randomOpsModel) reset() {
	m.pending = maps.Clone(m.committed)
	for name := range m.ids {
		if _, ok := m.committed[name]; !ok {
			delete(m.ids, name)
		}
	}
	m.objs = map[string]*item{}
}

// TestRandomOps runs random sequences of stores, updates, deletes, commits,
// rollbacks, reopens and crashes against a DB and checks the objects seen
// by the default and by fresh transactions against a model.
func TestRandomOps(t *testing.T) {
	seed := time.Now().UnixNano()
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, uint64(seed)))

	fs := vfs.NewCrashableMem()
	d := openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	m := &randomOpsModel{
		committed: map[string]int{},
		ids:       map[string]int32{},
	}
	m.reset()
	var next int

	get := func(name string) *item {
		if it, ok := m.objs[name]; ok {
			return it
		}
		obj, err := d.GetByID(m.ids[name])
		require.NoError(t, err, name)
		it := obj.(*item)
		require.Equal(t, name, it.Name)
		m.objs[name] = it
		return it
	}
	pick := func() (string, bool) {
		names := m.names(m.pending)
		if len(names) == 0 {
			return "", false
		}
		return names[rng.IntN(len(names))], true
	}
	reopen := func(clone *vfs.MemFS) {
		require.NoError(t, d.Close())
		if clone != nil {
			fs = clone
		} else {
			// Close commits the default transaction.
			m.committed = maps.Clone(m.pending)
		}
		m.reset()
		d = openTestDB(t, fs, nil)
		report, err := d.Check(context.Background(), nil)
		require.NoError(t, err)
		require.Empty(t, report.Problems)
	}
	verify := func() {
		ids, err := d.InstanceIDs(&item{})
		require.NoError(t, err)
		require.Equal(t, m.idsOf(m.pending), ids)
		for _, name := range m.names(m.pending) {
			require.Equal(t, m.pending[name], get(name).Count, name)
		}

		txn, err := d.NewTxn()
		require.NoError(t, err)
		defer func() { require.NoError(t, txn.Close()) }()
		ids, err = txn.InstanceIDs(&item{})
		require.NoError(t, err)
		require.Equal(t, m.idsOf(m.committed), ids)
		for _, name := range m.names(m.committed) {
			obj, err := txn.GetByID(m.ids[name])
			require.NoError(t, err, name)
			require.Equal(t, m.committed[name], obj.(*item).Count, name)
		}
	}

	ops := metamorphic.Weighted[func() string]{
		{Weight: 10, Item: func() string {
			name := fmt.Sprint("o", next)
			next++
			it := &item{Name: name, Count: rng.IntN(1000), Tags: []string{name}}
			id, err := d.Store(it)
			require.NoError(t, err)
			m.ids[name] = id
			m.pending[name] = it.Count
			m.objs[name] = it
			return fmt.Sprintf("store %s=%d", name, it.Count)
		}},
		{Weight: 8, Item: func() string {
			name, ok := pick()
			if !ok {
				return "update: none"
			}
			it := get(name)
			it.Count = rng.IntN(1000)
			_, err := d.Store(it)
			require.NoError(t, err)
			m.pending[name] = it.Count
			return fmt.Sprintf("update %s=%d", name, it.Count)
		}},
		{Weight: 4, Item: func() string {
			name, ok := pick()
			if !ok {
				return "delete: none"
			}
			require.NoError(t, d.Delete(get(name)))
			// The object stays in objs so that a rollback purges it.
			delete(m.pending, name)
			return fmt.Sprintf("delete %s", name)
		}},
		{Weight: 5, Item: func() string {
			require.NoError(t, d.Commit())
			m.committed = maps.Clone(m.pending)
			for name := range m.ids {
				if _, ok := m.committed[name]; !ok {
					delete(m.ids, name)
				}
			}
			return "commit"
		}},
		{Weight: 2, Item: func() string {
			require.NoError(t, d.Rollback())
			for _, it := range m.objs {
				d.Purge(it)
			}
			m.reset()
			return "rollback"
		}},
		{Weight: 3, Item: func() string {
			verify()
			return "verify"
		}},
		{Weight: 1, Item: func() string {
			reopen(nil)
			return "reopen"
		}},
		{Weight: 1, Item: func() string {
			reopen(fs.CrashClone(vfs.CrashCloneCfg{UnsyncedDataPercent: 50, RNG: rng}))
			return "crash"
		}},
	}
	nextOp := ops.RandomDeck(randv1.New(randv1.NewSource(rng.Int64())))
	for i := 0; i < 500; i++ {
		desc := nextOp()()
		if testing.Verbose() {
			t.Log(desc)
		}
	}
	verify()
	reopen(nil)
	verify()
}

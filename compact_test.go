// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/stretchr/testify/require"
)

const compactPath = "db/compacted"

func TestCompact(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	var kept []*item
	for i := 0; i < 100; i++ {
		it := &item{Name: fmt.Sprint("item", i), Count: i, Tags: []string{"x"}}
		if i%10 == 0 {
			kept = append(kept, it)
		}
		_, err := d.Store(it)
		require.NoError(t, err)
	}
	// Chain the kept items through a reference and an untyped field.
	for i := 1; i < len(kept); i++ {
		kept[i].Next = kept[i-1]
		kept[i].Attr = kept[0]
		_, err := d.Store(kept[i])
		require.NoError(t, err)
	}
	o := &order{Ref: "o1", Lines: []*line{{Qty: 1}, {Qty: 2}}}
	_, err := d.Store(o)
	require.NoError(t, err)
	require.NoError(t, d.Commit())

	ids, err := d.InstanceIDs(&item{})
	require.NoError(t, err)
	keptIDs := map[int32]bool{}
	for _, it := range kept {
		keptIDs[d.IDOf(it)] = true
	}
	for _, id := range ids {
		if !keptIDs[id] {
			obj, err := d.GetByID(id)
			require.NoError(t, err)
			require.NoError(t, d.Delete(obj))
		}
	}
	require.NoError(t, d.Commit())
	lastID := d.IDOf(kept[len(kept)-1])
	require.NoError(t, d.Close())

	info, err := Compact(testPath, compactPath, &Options{FS: fs, Types: testTypes, Logger: base.NoopLogger{}})
	require.NoError(t, err)
	require.Equal(t, 3, info.Classes)
	require.Equal(t, len(kept)+3, info.Objects)
	require.Len(t, info.IDs, info.Objects)
	require.Less(t, info.SizeAfter, info.SizeBefore)

	c, err := Open(compactPath, &Options{FS: fs, Types: testTypes, Logger: base.NoopLogger{}})
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()
	ids, err = c.InstanceIDs(&item{})
	require.NoError(t, err)
	require.Len(t, ids, len(kept))

	it := getItem(t, c, info.IDs[lastID])
	require.Equal(t, "item90", it.Name)
	require.Equal(t, 90, it.Count)
	require.Equal(t, []string{"x"}, it.Tags)
	n := 0
	for ; it.Next != nil; it = it.Next {
		require.NoError(t, c.Activate(it.Next, 1))
		n++
	}
	require.Equal(t, len(kept)-1, n)
	require.Equal(t, "item0", it.Name)

	orders, err := c.InstanceIDs(&order{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	obj, err := c.GetByID(orders[0])
	require.NoError(t, err)
	require.NoError(t, c.Activate(obj, 3))
	require.Equal(t, 2, obj.(*order).Lines[1].Qty)

	report, err := c.Check(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, info.Objects, report.Objects)
}

func TestCompactErrors(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, &Options{Types: NewTypeRegistry()})
	_, err := d.Store(&registered{V: 1})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	// The destination must not exist.
	_, err = Compact(testPath, testPath, &Options{FS: fs, Logger: base.NoopLogger{}})
	require.ErrorContains(t, err, "already exists")

	// Classes without a registered type cannot be copied, and the partial
	// copy is removed.
	_, err = Compact(testPath, compactPath, &Options{FS: fs, Types: NewTypeRegistry(), Logger: base.NoopLogger{}})
	require.ErrorContains(t, err, "no Go type registered")
	_, err = fs.Stat(compactPath)
	require.Error(t, err)

	types := NewTypeRegistry()
	require.NoError(t, types.Register(&registered{}))
	info, err := Compact(testPath, compactPath, &Options{FS: fs, Types: types, Logger: base.NoopLogger{}})
	require.NoError(t, err)
	require.Equal(t, 1, info.Objects)
}

// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package btree

import (
	"cmp"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func checkIter(t *testing.T, it Iterator[int], start, end int) {
	t.Helper()
	i := start
	for it.First(); it.Valid(); it.Next() {
		if item := it.Item(); item != i {
			t.Fatalf("expected %d, but found %d", i, item)
		}
		i++
	}
	if i != end {
		t.Fatalf("expected %d, but at %d", end, i)
	}

	for it.Last(); it.Valid(); it.Prev() {
		i--
		if item := it.Item(); item != i {
			t.Fatalf("expected %d, but found %d", i, item)
		}
	}
	if i != start {
		t.Fatalf("expected %d, but at %d", start, i)
	}
}

func TestBTree(t *testing.T) {
	tr := New[int](cmp.Compare[int])

	// With degree == 16 (max-items/node == 31) we need 513 items in order for
	// there to be 3 levels in the tree. The count here is comfortably above
	// that.
	const count = 768
	// Add keys in sorted order.
	for i := 0; i < count; i++ {
		tr.Set(i)
		tr.Verify()
		if e := i + 1; e != tr.Len() {
			t.Fatalf("expected length %d, but found %d", e, tr.Len())
		}
		checkIter(t, tr.NewIter(), 0, i+1)
	}
	require.Equal(t, 3, tr.Height())
	// Delete keys in sorted order.
	for i := 0; i < count; i++ {
		require.True(t, tr.Delete(i))
		tr.Verify()
		if e := count - (i + 1); e != tr.Len() {
			t.Fatalf("expected length %d, but found %d", e, tr.Len())
		}
		checkIter(t, tr.NewIter(), i+1, count)
	}
	require.False(t, tr.Delete(0))

	// Add keys in reverse sorted order.
	for i := 0; i < count; i++ {
		tr.Set(count - i)
		tr.Verify()
		if e := i + 1; e != tr.Len() {
			t.Fatalf("expected length %d, but found %d", e, tr.Len())
		}
		checkIter(t, tr.NewIter(), count-i, count+1)
	}
	// Delete keys in reverse sorted order.
	for i := 0; i < count; i++ {
		tr.Delete(count - i)
		tr.Verify()
		if e := count - (i + 1); e != tr.Len() {
			t.Fatalf("expected length %d, but found %d", e, tr.Len())
		}
		checkIter(t, tr.NewIter(), 1, count-i)
	}
}

func TestBTreeSeek(t *testing.T) {
	const count = 513

	tr := New[int](cmp.Compare[int])
	for i := 0; i < count; i++ {
		tr.Set(i * 2)
	}

	it := tr.NewIter()
	for i := 0; i < 2*count-1; i++ {
		it.SeekGE(i)
		if !it.Valid() {
			t.Fatalf("%d: expected valid iterator", i)
		}
		if expected := 2 * ((i + 1) / 2); it.Item() != expected {
			t.Fatalf("%d: expected %d, but found %d", i, expected, it.Item())
		}
	}
	it.SeekGE(2*count - 1)
	if it.Valid() {
		t.Fatalf("expected invalid iterator")
	}

	for i := 1; i < 2*count; i++ {
		it.SeekLT(i)
		if !it.Valid() {
			t.Fatalf("%d: expected valid iterator", i)
		}
		if expected := 2 * ((i - 1) / 2); it.Item() != expected {
			t.Fatalf("%d: expected %d, but found %d", i, expected, it.Item())
		}
	}
	it.SeekLT(0)
	if it.Valid() {
		t.Fatalf("expected invalid iterator")
	}

	v, ok := tr.Get(10)
	require.True(t, ok)
	require.Equal(t, 10, v)
	_, ok = tr.Get(11)
	require.False(t, ok)
}

type run struct {
	key, val int
}

func TestBTreeReplace(t *testing.T) {
	tr := New[run](func(a, b run) int { return cmp.Compare(a.key, b.key) })
	tr.Set(run{key: 1, val: 1})
	tr.Set(run{key: 1, val: 2})
	require.Equal(t, 1, tr.Len())
	got, ok := tr.Get(run{key: 1})
	require.True(t, ok)
	require.Equal(t, 2, got.val)
}

func TestBTreeRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	tr := New[int](cmp.Compare[int])
	present := map[int]bool{}
	for i := 0; i < 5000; i++ {
		k := rng.IntN(1000)
		if rng.IntN(3) == 0 {
			require.Equal(t, present[k], tr.Delete(k), "delete %d", k)
			delete(present, k)
		} else {
			tr.Set(k)
			present[k] = true
		}
	}
	tr.Verify()
	require.Equal(t, len(present), tr.Len())

	var want []int
	for k := range present {
		want = append(want, k)
	}
	slices.Sort(want)
	var got []int
	tr.Ascend(func(k int) bool {
		got = append(got, k)
		return true
	})
	require.Equal(t, want, got, fmt.Sprint(len(got)))
}

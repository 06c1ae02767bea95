// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name  string
	Count int
	Next  *item
	Tags  []string
	When  time.Time
	Attr  any

	// Not stored.
	scratch int
}

type order struct {
	Ref   string
	Lines []*line
}

type line struct {
	Qty int
}

const testPath = "db/objects"

// testTypes is shared by the DBs of the tests so that reopened files read
// the types stored by earlier DBs.
var testTypes = NewTypeRegistry()

func openTestDB(t *testing.T, fs vfs.FS, opts *Options) *DB {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	opts.FS = fs
	if opts.Types == nil {
		opts.Types = testTypes
	}
	if opts.Logger == nil {
		opts.Logger = base.NoopLogger{}
	}
	d, err := Open(testPath, opts)
	require.NoError(t, err)
	return d
}

func getItem(t *testing.T, txn interface {
	GetByID(int32) (any, error)
}, id int32) *item {
	t.Helper()
	obj, err := txn.GetByID(id)
	require.NoError(t, err)
	it, ok := obj.(*item)
	require.True(t, ok, "%T", obj)
	return it
}

func TestOpenCreatesFile(t *testing.T) {
	fs := vfs.NewMem()
	var created []bool
	d := openTestDB(t, fs, &Options{
		EventListener: &EventListener{
			Opened: func(info OpenInfo) { created = append(created, info.Created) },
		},
	})
	require.Equal(t, testPath, d.Path())
	h := d.Header()
	require.Equal(t, defaultBlockSize, h.BlockSize)
	require.NotZero(t, h.ClassCollectionID)
	require.Zero(t, h.TxPointer1)
	require.NoError(t, d.Close())
	require.True(t, errors.Is(d.Close(), ErrClosed))

	d = openTestDB(t, fs, &Options{
		BlockSize: 16,
		EventListener: &EventListener{
			Opened: func(info OpenInfo) { created = append(created, info.Created) },
		},
	})
	// The block size of the file wins.
	require.Equal(t, defaultBlockSize, d.Header().BlockSize)
	require.NoError(t, d.Close())
	require.Equal(t, []bool{true, false}, created)
}

func TestOpenNotADatabase(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("db", 0755))
	f, err := fs.Create(testPath)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("definitely not a slotdb file, but long enough for a header"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(testPath, &Options{FS: fs, Logger: base.NoopLogger{}})
	require.True(t, errors.Is(err, ErrIncompatibleFormat))
}

func TestOpenLocked(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	_, err := Open(testPath, &Options{FS: fs, Logger: base.NoopLogger{}})
	require.Error(t, err)
	require.NoError(t, d.Close())

	// A pre-acquired lock is handed to Open and stays held after Close.
	lock, err := LockFile(testPath, fs)
	require.NoError(t, err)
	d = openTestDB(t, fs, &Options{Lock: lock})
	require.NoError(t, d.Close())
	_, err = Open(testPath, &Options{FS: fs, Logger: base.NoopLogger{}})
	require.Error(t, err)
	require.NoError(t, lock.Close())
	d = openTestDB(t, fs, nil)
	require.NoError(t, d.Close())
}

func TestStoreCommitReopen(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &item{
		Name:    "a",
		Count:   1,
		Next:    &item{Name: "b", Count: 2},
		Tags:    []string{"x", "y"},
		When:    when,
		Attr:    int64(7),
		scratch: 9,
	}
	id, err := d.Store(a)
	require.NoError(t, err)
	require.Positive(t, id)
	require.Equal(t, id, d.IDOf(a))
	require.True(t, d.IsStored(a))
	require.True(t, d.IsStored(a.Next))
	require.NotEqual(t, id, d.IDOf(a.Next))

	// Storing again keeps the ID.
	id2, err := d.Store(a)
	require.NoError(t, err)
	require.Equal(t, id, id2)

	// The object resolves to itself within the transaction.
	require.Same(t, a, getItem(t, d, id))
	require.NoError(t, d.Commit())
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	got := getItem(t, d, id)
	require.NotSame(t, a, got)
	require.Equal(t, "a", got.Name)
	require.Equal(t, 1, got.Count)
	require.Equal(t, []string{"x", "y"}, got.Tags)
	require.True(t, when.Equal(got.When))
	require.Equal(t, int64(7), got.Attr)
	require.Zero(t, got.scratch)
	require.NotNil(t, got.Next)
	require.Equal(t, "b", got.Next.Name)
	require.Equal(t, 2, got.Next.Count)

	// Identity: the same ID yields the same object.
	require.Same(t, got, getItem(t, d, id))
	require.Same(t, got.Next, getItem(t, d, d.IDOf(got.Next)))
}

func TestCloseCommitsDefaultTxn(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	id, err := d.Store(&item{Name: "kept"})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	require.Equal(t, "kept", getItem(t, d, id).Name)
}

func TestCycles(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	a := &item{Name: "a"}
	b := &item{Name: "b", Next: a}
	a.Next = b
	id, err := d.Store(a)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	got := getItem(t, d, id)
	require.Equal(t, "b", got.Next.Name)
	require.Same(t, got, got.Next.Next)
}

func TestUpdate(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	a := &item{Name: "a", Next: &item{Name: "b"}}
	id, err := d.Store(a)
	require.NoError(t, err)
	require.NoError(t, d.Commit())

	// The default update depth of 1 rewrites a but not b.
	a.Count = 10
	a.Next.Count = 20
	_, err = d.Store(a)
	require.NoError(t, err)
	// A depth of 2 reaches b.
	c := &item{Name: "c", Next: &item{Name: "d"}}
	idC, err := d.Store(c)
	require.NoError(t, err)
	c.Next.Count = 40
	_, err = d.StoreDepth(c, 2)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	got := getItem(t, d, id)
	require.Equal(t, 10, got.Count)
	require.Equal(t, 0, got.Next.Count)
	require.Equal(t, 40, getItem(t, d, idC).Next.Count)
}

func TestStoreErrors(t *testing.T) {
	d := openTestDB(t, vfs.NewMem(), nil)
	defer func() { require.NoError(t, d.Close()) }()

	_, err := d.Store(nil)
	require.True(t, errors.Is(err, ErrNotStorable))
	_, err = d.Store((*item)(nil))
	require.True(t, errors.Is(err, ErrNotStorable))
	_, err = d.Store(item{})
	require.True(t, errors.Is(err, ErrNotStorable))
	_, err = d.Store(&struct{ A int }{})
	require.True(t, errors.Is(err, ErrNotStorable))
	type withChan struct{ C chan int }
	_, err = d.Store(&withChan{})
	require.True(t, errors.Is(err, ErrNotStorable))

	_, err = d.GetByID(0)
	require.True(t, errors.Is(err, ErrNotFound))
	_, err = d.GetByID(-3)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestDelete(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	a := &item{Name: "a", Next: &item{Name: "b"}}
	id, err := d.Store(a)
	require.NoError(t, err)
	idB := d.IDOf(a.Next)
	require.NoError(t, d.Commit())

	require.NoError(t, d.Delete(a))
	require.False(t, d.IsStored(a))
	_, err = d.GetByID(id)
	require.True(t, errors.Is(err, ErrNotFound))
	// Storing a deleted object is an error.
	_, err = d.Store(a)
	require.True(t, errors.Is(err, ErrNotStorable))
	// Deleting twice is a no-op.
	require.NoError(t, d.Delete(a))
	require.NoError(t, d.Commit())

	addr, length, err := d.Pointer(id)
	require.NoError(t, err)
	require.Zero(t, addr)
	require.Zero(t, length)
	require.Zero(t, d.IDOf(a))

	// The item class does not cascade: b survives.
	require.Equal(t, "b", getItem(t, d, idB).Name)
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	_, err = d.GetByID(id)
	require.True(t, errors.Is(err, ErrNotFound))
	require.Equal(t, "b", getItem(t, d, idB).Name)
}

func TestDeleteUnstored(t *testing.T) {
	d := openTestDB(t, vfs.NewMem(), nil)
	defer func() { require.NoError(t, d.Close()) }()
	require.NoError(t, d.Delete(&item{Name: "never stored"}))
	require.NoError(t, d.Delete(nil))
}

func TestCascadeDelete(t *testing.T) {
	fs := vfs.NewMem()
	opts := func() *Options {
		return &Options{Classes: []ClassConfig{{Prototype: (*order)(nil), CascadeOnDelete: true}}}
	}
	d := openTestDB(t, fs, opts())
	o := &order{Ref: "o1", Lines: []*line{{Qty: 1}, {Qty: 2}}}
	id, err := d.Store(o)
	require.NoError(t, err)
	ids := []int32{d.IDOf(o.Lines[0]), d.IDOf(o.Lines[1])}
	require.Positive(t, ids[0])
	require.Positive(t, ids[1])
	require.NoError(t, d.Commit())

	require.NoError(t, d.Delete(o))
	require.False(t, d.IsStored(o.Lines[0]))
	require.NoError(t, d.Commit())
	for _, lid := range append(ids, id) {
		addr, _, err := d.Pointer(lid)
		require.NoError(t, err)
		require.Zero(t, addr)
	}
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, opts())
	defer func() { require.NoError(t, d.Close()) }()
	lines, err := d.InstanceIDs((*line)(nil))
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestInstanceIDs(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	a := &item{Name: "a", Next: &item{Name: "b"}}
	_, err := d.Store(a)
	require.NoError(t, err)
	ids, err := d.InstanceIDs((*item)(nil))
	require.NoError(t, err)
	require.ElementsMatch(t, []int32{d.IDOf(a), d.IDOf(a.Next)}, ids)

	// Other transactions only see committed instances.
	txn, err := d.NewTxn()
	require.NoError(t, err)
	ids, err = txn.InstanceIDs((*item)(nil))
	require.NoError(t, err)
	require.Empty(t, ids)
	require.NoError(t, d.Commit())
	ids, err = txn.InstanceIDs((*item)(nil))
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.NoError(t, d.Delete(a))
	ids, err = d.InstanceIDs((*item)(nil))
	require.NoError(t, err)
	require.Equal(t, []int32{d.IDOf(a.Next)}, ids)
	require.NoError(t, txn.Close())
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	ids, err = d.InstanceIDs((*item)(nil))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	_, err = d.InstanceIDs(42)
	require.True(t, errors.Is(err, ErrNotStorable))
}

func TestActivationDepth(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, &Options{ActivationDepth: 2})
	head := &item{Name: "n0", Next: &item{Name: "n1", Next: &item{Name: "n2", Next: &item{Name: "n3"}}}}
	id, err := d.Store(head)
	require.NoError(t, err)
	require.NoError(t, d.Commit())

	txn, err := d.NewTxn()
	require.NoError(t, err)
	defer func() { require.NoError(t, txn.Close()) }()
	got := getItem(t, txn, id)
	require.NotSame(t, head, got)
	require.Equal(t, "n0", got.Name)
	require.Equal(t, "n1", got.Next.Name)
	n2 := got.Next.Next
	require.NotNil(t, n2)
	require.False(t, txn.IsActive(n2))
	require.Empty(t, n2.Name)
	require.Nil(t, n2.Next)

	require.NoError(t, txn.Activate(n2, 1))
	require.True(t, txn.IsActive(n2))
	require.Equal(t, "n2", n2.Name)
	require.NotNil(t, n2.Next)
	require.False(t, txn.IsActive(n2.Next))

	// Deactivation clears the fields but keeps the identity.
	require.NoError(t, txn.Deactivate(got, 1))
	require.False(t, txn.IsActive(got))
	require.Empty(t, got.Name)
	require.Nil(t, got.Next)
	require.True(t, txn.IsActive(n2))
	require.Same(t, got, getItem(t, txn, id))
	require.NoError(t, txn.Activate(got, 1))
	require.Equal(t, "n0", got.Name)
	require.Same(t, n2, got.Next.Next)

	// Refresh discards in-memory changes.
	got.Name = "changed"
	require.NoError(t, txn.Activate(got, 1))
	require.Equal(t, "changed", got.Name)
	require.NoError(t, txn.Refresh(got, 1))
	require.Equal(t, "n0", got.Name)
	require.NoError(t, d.Close())
}

func TestStackDepthQueue(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, &Options{MaxStackDepth: 2, ActivationDepth: 100})
	const n = 50
	var head *item
	for i := n - 1; i >= 0; i-- {
		head = &item{Count: i, Next: head}
	}
	id, err := d.Store(head)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, &Options{MaxStackDepth: 2, ActivationDepth: 100})
	defer func() { require.NoError(t, d.Close()) }()
	got := getItem(t, d, id)
	i := 0
	for it := got; it != nil; it = it.Next {
		require.Equal(t, i, it.Count)
		require.True(t, d.IsActive(it))
		i++
	}
	require.Equal(t, n, i)
}

func TestPurge(t *testing.T) {
	d := openTestDB(t, vfs.NewMem(), nil)
	defer func() { require.NoError(t, d.Close()) }()
	a := &item{Name: "a"}
	id, err := d.Store(a)
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	d.Purge(a)
	require.Zero(t, d.IDOf(a))
	got := getItem(t, d, id)
	require.NotSame(t, a, got)
	require.Equal(t, "a", got.Name)
}

func TestPeekPersisted(t *testing.T) {
	d := openTestDB(t, vfs.NewMem(), nil)
	defer func() { require.NoError(t, d.Close()) }()
	a := &item{Name: "a", Count: 1, Next: &item{Name: "b"}}
	_, err := d.Store(a)
	require.NoError(t, err)
	_, err = d.PeekPersisted(a, 1, true)
	require.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, d.Commit())

	a.Count = 2
	_, err = d.Store(a)
	require.NoError(t, err)

	obj, err := d.PeekPersisted(a, 1, true)
	require.NoError(t, err)
	committed := obj.(*item)
	require.NotSame(t, a, committed)
	require.Equal(t, 1, committed.Count)
	// References beyond the depth are left nil.
	require.Nil(t, committed.Next)

	obj, err = d.PeekPersisted(a, 2, false)
	require.NoError(t, err)
	pending := obj.(*item)
	require.Equal(t, 2, pending.Count)
	require.NotNil(t, pending.Next)
	require.NotSame(t, a.Next, pending.Next)
	require.Equal(t, "b", pending.Next.Name)

	// Peeking leaves the reference system alone.
	require.Zero(t, d.IDOf(pending))

	_, err = d.PeekPersisted(&item{}, 1, true)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestReadOnly(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	id, err := d.Store(&item{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, &Options{ReadOnly: true})
	require.Equal(t, "a", getItem(t, d, id).Name)
	_, err = d.Store(&item{Name: "b"})
	require.True(t, errors.Is(err, ErrReadOnly))
	require.True(t, errors.Is(d.Delete(getItem(t, d, id)), ErrReadOnly))
	require.NoError(t, d.Commit())
	require.NoError(t, d.Close())

	_, err = Open("db/missing", &Options{FS: fs, ReadOnly: true, Logger: base.NoopLogger{}})
	require.Error(t, err)
}

func TestClosedDB(t *testing.T) {
	d := openTestDB(t, vfs.NewMem(), nil)
	txn, err := d.NewTxn()
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = d.Store(&item{})
	require.True(t, errors.Is(err, ErrClosed))
	_, err = d.GetByID(1)
	require.True(t, errors.Is(err, ErrClosed))
	require.True(t, errors.Is(d.Commit(), ErrClosed))
	_, err = txn.Store(&item{})
	require.True(t, errors.Is(err, ErrClosed))
	_, err = d.NewTxn()
	require.True(t, errors.Is(err, ErrClosed))
	_, _, err = d.Pointer(1)
	require.True(t, errors.Is(err, ErrClosed))
	require.NoError(t, txn.Close())
}

func TestDefaultTxnCannotBeClosed(t *testing.T) {
	d := openTestDB(t, vfs.NewMem(), nil)
	defer func() { require.NoError(t, d.Close()) }()
	err := d.Txn().Close()
	require.Error(t, err)
	require.True(t, errors.IsAssertionFailure(err))
}

func TestFreespaceReuse(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, nil)
	a := &item{Name: "a", Tags: make([]string, 64)}
	_, err := d.Store(a)
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	// Rewriting a releases its first slot.
	a.Tags = nil
	_, err = d.Store(a)
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	require.NotEmpty(t, d.FreeRuns())
	require.NoError(t, d.Close())

	d = openTestDB(t, fs, nil)
	runs := d.FreeRuns()
	require.NotEmpty(t, runs)
	require.NotZero(t, d.Metrics().Freespace.FreeBytes)
	id, err := d.Store(&item{Name: "small"})
	require.NoError(t, err)
	require.NoError(t, d.Commit())

	// The pointer of the new object is carved out of a run that was free
	// before the reopen.
	reused := false
	for _, r := range runs {
		if id >= r.Address && id < r.Address+r.Blocks {
			reused = true
		}
	}
	require.True(t, reused, "id %d not in %v", id, runs)
	require.NoError(t, d.Close())
}

func TestFreespaceAppend(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, &Options{Freespace: FreespaceAppend})
	a := &item{Name: "a"}
	_, err := d.Store(a)
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	a.Count++
	_, err = d.Store(a)
	require.NoError(t, err)
	require.NoError(t, d.Commit())
	require.Empty(t, d.FreeRuns())
	require.NoError(t, d.Close())

	// The allocator of the file wins over the configured one.
	d = openTestDB(t, fs, nil)
	defer func() { require.NoError(t, d.Close()) }()
	require.Equal(t, FreespaceAppend, d.Header().Freespace)
}

func TestCompression(t *testing.T) {
	for _, c := range []Compression{NoCompression, SnappyCompression, ZstdCompression, S2Compression, MinLZCompression} {
		t.Run(c.String(), func(t *testing.T) {
			fs := vfs.NewMem()
			d := openTestDB(t, fs, &Options{Compression: c})
			tags := make([]string, 100)
			for i := range tags {
				tags[i] = "repetitive tag value"
			}
			id, err := d.Store(&item{Name: "a", Tags: tags})
			require.NoError(t, err)
			require.NoError(t, d.Close())

			// Frames carry their codec; the reader needs no configuration.
			d = openTestDB(t, fs, nil)
			defer func() { require.NoError(t, d.Close()) }()
			require.Equal(t, tags, getItem(t, d, id).Tags)
		})
	}
}

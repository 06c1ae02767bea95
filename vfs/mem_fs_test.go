// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"io"
	"math/rand/v2"
	"testing"

	"github.com/cockroachdb/errors/oserror"
	"github.com/stretchr/testify/require"
)

func writeAt(t *testing.T, f File, s string, off int64) {
	t.Helper()
	n, err := f.WriteAt([]byte(s), off)
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

func readAll(t *testing.T, fs FS, name string) string {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	size, err := Size(f)
	require.NoError(t, err)
	buf := make([]byte, size)
	if size > 0 {
		require.NoError(t, ReadFull(f, buf, 0))
	}
	return string(buf)
}

func TestMemFSBasics(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("a/b", 0755))

	f, err := fs.Create("a/b/db")
	require.NoError(t, err)
	writeAt(t, f, "hello", 0)
	writeAt(t, f, "xy", 8)
	require.NoError(t, f.Close())
	require.Equal(t, "hello\x00\x00\x00xy", readAll(t, fs, "a/b/db"))

	// OpenReadWrite keeps existing content; Create truncates.
	f, err = fs.OpenReadWrite("a/b/db")
	require.NoError(t, err)
	writeAt(t, f, "J", 0)
	require.NoError(t, f.Truncate(5))
	require.NoError(t, f.Close())
	require.Equal(t, "Jello", readAll(t, fs, "a/b/db"))

	f, err = fs.Create("a/b/db")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "", readAll(t, fs, "a/b/db"))

	names, err := fs.List("a/b")
	require.NoError(t, err)
	require.Equal(t, []string{"db"}, names)

	require.NoError(t, fs.Rename("a/b/db", "a/db2"))
	_, err = fs.Stat("a/b/db")
	require.True(t, oserror.IsNotExist(err))
	fi, err := fs.Stat("a/db2")
	require.NoError(t, err)
	require.Equal(t, "db2", fi.Name())

	require.Error(t, fs.Remove("a"))
	require.NoError(t, fs.Remove("a/db2"))
	_, err = fs.Open("a/db2")
	require.True(t, oserror.IsNotExist(err))
	require.Equal(t, "          /\n            a/\n              b/\n", fs.String())
}

func TestMemFileReadOnly(t *testing.T) {
	fs := NewMem()
	f, err := fs.Create("db")
	require.NoError(t, err)
	writeAt(t, f, "abc", 0)
	require.NoError(t, f.Close())

	f, err = fs.Open("db")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte("z"), 0)
	require.Error(t, err)

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 1)
	require.Equal(t, 2, n)
	require.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, ReadFull(f, buf, 1), io.ErrUnexpectedEOF)
	require.ErrorIs(t, ReadFull(f, buf, 10), io.EOF)
}

func TestMemFSLock(t *testing.T) {
	fs := NewMem()
	l, err := fs.Lock(LockPath(fs, "dir/db"))
	require.Error(t, err)
	require.Nil(t, l)

	l, err = fs.Lock(LockPath(fs, "db"))
	require.NoError(t, err)
	_, err = fs.Lock("db.lock")
	require.Error(t, err)
	require.NoError(t, l.Close())
	require.Error(t, l.Close())

	l, err = fs.Lock("db.lock")
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestCrashClone(t *testing.T) {
	fs := NewCrashableMem()
	f, err := fs.Create("db")
	require.NoError(t, err)
	writeAt(t, f, "synced", 0)
	require.NoError(t, f.Sync())
	writeAt(t, f, "SYN", 0)
	writeAt(t, f, "-unsynced", 6)

	crashed := fs.CrashClone(CrashCloneCfg{})
	require.Equal(t, "synced", readAll(t, crashed, "db"))

	all := fs.CrashClone(CrashCloneCfg{UnsyncedDataPercent: 100, RNG: rand.New(rand.NewPCG(1, 2))})
	require.Equal(t, "SYNced-unsynced", readAll(t, all, "db"))

	// The clones are independent of the original.
	writeAt(t, f, "!", 0)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
	require.Equal(t, "synced", readAll(t, crashed, "db"))
	require.Equal(t, "!YNced-unsynced", readAll(t, fs, "db"))
}

func TestCrashCloneRequiresCrashable(t *testing.T) {
	require.Panics(t, func() { NewMem().CrashClone(CrashCloneCfg{}) })
}

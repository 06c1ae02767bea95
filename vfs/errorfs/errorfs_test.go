// Copyright 2023 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package errorfs

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/stretchr/testify/require"
)

func TestOnIndex(t *testing.T) {
	ii := OnIndex(2, Always())
	fs := Wrap(vfs.NewMem(), ii)

	f, err := fs.Create("db") // index 0
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("x"), 0) // index 1
	require.NoError(t, err)
	err = f.Sync() // index 2
	require.True(t, errors.Is(err, ErrInjected))
	require.Less(t, ii.Index(), int32(0))

	// Only a single error is injected.
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
}

func TestFilters(t *testing.T) {
	var toggle Toggle
	toggle.Injector = PathMatch("*.lock", OpKindIs(OpKindWrite, Always()))
	fs := Wrap(vfs.NewMem(), &toggle)

	l, err := fs.Lock("db.lock")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	toggle.On()
	_, err = fs.Lock("db.lock")
	require.True(t, errors.Is(err, ErrInjected))
	_, err = fs.Stat("db.lock")
	require.NoError(t, err)
	f, err := fs.Create("db")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	toggle.Off()
	l, err = fs.Lock("db.lock")
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestOpString(t *testing.T) {
	require.Equal(t, "file-sync", OpFileSync.String())
	require.Equal(t, "op(99)", Op(99).String())
	require.Equal(t, OpKindRead, OpFileReadAt.OpKind())
}

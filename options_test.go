// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"testing"

	"github.com/cockroachdb/slotdb/vfs"
	"github.com/stretchr/testify/require"
)

func TestOptionsString(t *testing.T) {
	const expected = `[Options]
  activation_depth=5
  block_size=8
  collection_update_depth=3
  compression=none
  disable_file_lock=false
  freespace=ram
  max_stack_depth=20
  read_only=false
  update_depth=1
  weak_references=false
`

	var opts *Options
	opts = opts.EnsureDefaults()
	if v := opts.String(); expected != v {
		t.Fatalf("expected\n%s\nbut found\n%s", expected, v)
	}
}

func TestOptionsParse(t *testing.T) {
	opts := &Options{
		BlockSize:             16,
		ActivationDepth:       3,
		UpdateDepth:           2,
		MaxStackDepth:         7,
		CollectionUpdateDepth: 4,
		WeakReferences:        true,
		Freespace:             FreespaceAppend,
		Compression:           ZstdCompression,
		DisableFileLock:       true,
		ReadOnly:              true,
	}
	opts.EnsureDefaults()
	str := opts.String()

	var parsed Options
	require.NoError(t, parsed.Parse(str))
	parsed.EnsureDefaults()
	require.Equal(t, str, parsed.String())

	// Keys missing from the string keep their values.
	parsed = Options{BlockSize: 32}
	require.NoError(t, parsed.Parse("[Options]\n  ; comment\n  update_depth=9\n"))
	require.Equal(t, 32, parsed.BlockSize)
	require.Equal(t, 9, parsed.UpdateDepth)
}

func TestOptionsParseErrors(t *testing.T) {
	testCases := []struct {
		in  string
		err string
	}{
		{"[Version]\n  x=1\n", `unknown section: "Version"`},
		{"[Options]\n  foo=1\n", "unknown option: Options.foo"},
		{"[Options]\n  block_size\n", "invalid key=value syntax"},
		{"[Options]\n  block_size=big\n", "option block_size"},
		{"[Options]\n  compression=lz4\n", `unknown compression "lz4"`},
		{"[Options]\n  freespace=btree\n", `unknown freespace system "btree"`},
		{"[Options]\n  weak_references=maybe\n", "option weak_references"},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			var opts Options
			require.ErrorContains(t, opts.Parse(c.in), c.err)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	testCases := []struct {
		opts Options
		err  string
	}{
		{Options{}, ""},
		{Options{BlockSize: 128}, "BlockSize (128) must be between 1 and 127"},
		{Options{Compression: 99}, "Compression (99) is not a known codec"},
		{Options{Freespace: 5}, "Freespace (5) is not a known allocator"},
		{Options{Lock: &FileLock{}, DisableFileLock: true}, "Lock cannot be combined with DisableFileLock"},
		{Options{Classes: []ClassConfig{{}}}, "Classes[0] has no Prototype"},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			opts := c.opts
			opts.EnsureDefaults()
			err := opts.Validate()
			if c.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, c.err)
		})
	}
}

func TestOptionsClone(t *testing.T) {
	var committed int
	opts := &Options{
		Classes:       []ClassConfig{{Prototype: &item{}}},
		EventListener: &EventListener{CommitEnd: func(CommitInfo) { committed++ }},
	}
	c := opts.Clone()
	c.Classes[0].Prototype = &order{}
	c.EventListener.CommitEnd = nil
	require.IsType(t, &item{}, opts.Classes[0].Prototype)
	require.NotNil(t, opts.EventListener.CommitEnd)

	var nilOpts *Options
	require.NotNil(t, nilOpts.Clone())
}

func TestOpenInvalidOptions(t *testing.T) {
	_, err := Open(testPath, &Options{FS: vfs.NewMem(), BlockSize: 200})
	require.ErrorContains(t, err, "BlockSize (200)")
}

func TestBlockSizeOfExistingFile(t *testing.T) {
	fs := vfs.NewMem()
	d := openTestDB(t, fs, &Options{BlockSize: 16})
	id, err := d.Store(&item{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	// The block size recorded in the file wins over the configured one.
	d = openTestDB(t, fs, &Options{BlockSize: 4})
	require.Equal(t, 16, d.Header().BlockSize)
	require.Equal(t, 16, d.Metrics().BlockSize)
	require.Equal(t, "a", getItem(t, d, id).Name)
	require.NoError(t, d.Close())
}

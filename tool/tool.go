// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package tool implements the introspection commands of the slotdb command
// line tool.
package tool

import (
	"github.com/cockroachdb/slotdb"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/spf13/cobra"
)

// T is the container for all of the introspection tools.
type T struct {
	Commands []*cobra.Command
	db       *dbT
	opts     slotdb.Options
}

// Option is a functional option for configuring T.
type Option func(*T)

// FS sets the file system the tools read database files from.
func FS(fs vfs.FS) Option {
	return func(t *T) {
		t.opts.FS = fs
	}
}

// Logger sets the logger used by the databases opened by the tools.
func Logger(l slotdb.Logger) Option {
	return func(t *T) {
		t.opts.Logger = l
	}
}

// Types sets the registry that binds the stored classes to Go types. The
// commands that read objects need it.
func Types(r *slotdb.TypeRegistry) Option {
	return func(t *T) {
		t.opts.Types = r
	}
}

// New creates a new introspection tool.
func New(opts ...Option) *T {
	t := &T{
		opts: slotdb.Options{
			FS:       vfs.Default,
			ReadOnly: true,
		},
	}
	for _, opt := range opts {
		opt(t)
	}

	t.db = newDB(&t.opts)
	t.Commands = []*cobra.Command{
		t.db.Root,
	}
	return t
}

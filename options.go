// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/compression"
	"github.com/cockroachdb/slotdb/internal/freespace"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/slotdb/vfs"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultBlockSize             = slot.PointerLength
	defaultActivationDepth       = 5
	defaultUpdateDepth           = 1
	defaultMaxStackDepth         = 20
	defaultCollectionUpdateDepth = 3
)

// Logger defines an interface for writing log messages.
type Logger = base.Logger

// DefaultLogger logs to the Go stdlib logs.
type DefaultLogger = base.DefaultLogger

// FileLock is a held lock on a database file. See LockFile.
type FileLock = base.FileLock

// LockFile acquires the lock of the database file name. The lock may be
// handed to Open through Options.Lock.
func LockFile(name string, fs vfs.FS) (*FileLock, error) {
	return base.LockFile(name, fs)
}

// Compression is the codec applied to object slot payloads.
type Compression = compression.Algorithm

// Exported Compression constants.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.Snappy
	ZstdCompression   = compression.Zstd
	S2Compression     = compression.S2
	MinLZCompression  = compression.MinLZ
)

// FreespaceKind selects the allocator a new file is created with.
type FreespaceKind = freespace.Kind

// Exported FreespaceKind constants.
const (
	// FreespaceRAM keeps the free list in memory and persists it on Close.
	FreespaceRAM = freespace.KindRAM
	// FreespaceAppend never reuses space.
	FreespaceAppend = freespace.KindAppend
)

// Options holds the optional parameters for configuring slotdb. These
// options apply to the DB at large; per-class settings live in ClassConfig.
type Options struct {
	// BlockSize is the allocation granularity of the file in bytes, between 1
	// and 127. It is fixed when the file is created; the value stored in an
	// existing file takes precedence.
	//
	// The default value is 8.
	BlockSize int

	// ActivationDepth is the number of levels of an object graph that are
	// populated when an object is read without an explicit depth.
	//
	// The default value is 5.
	ActivationDepth int

	// UpdateDepth is the number of levels of an object graph that are
	// rewritten by Store. A depth of 1 rewrites only the stored object;
	// referenced objects that were never stored are always stored.
	//
	// The default value is 1.
	UpdateDepth int

	// MaxStackDepth bounds the recursion of the activation and store paths.
	// Deeper work is queued and drained once the outer call completes.
	//
	// The default value is 20.
	MaxStackDepth int

	// CollectionUpdateDepth is the depth border applied to classes marked as
	// collections by ClassConfig.Collection.
	//
	// The default value is 3.
	CollectionUpdateDepth int

	// WeakReferences holds cached objects through weak pointers so that the
	// garbage collector may reclaim objects that the application no longer
	// references. Collected references are dropped by PollCollected, which
	// also runs at the start of every top-level call.
	WeakReferences bool

	// Freespace selects the allocator of a new file. The allocator of an
	// existing file is read from its header.
	Freespace FreespaceKind

	// Compression is applied to object payloads when it makes them smaller.
	Compression Compression

	// ReadOnly opens the file without writing to it. Mutating operations
	// return ErrReadOnly.
	ReadOnly bool

	// DisableFileLock skips the lock file that excludes other processes.
	DisableFileLock bool

	// Lock, if set, must be a lock acquired through LockFile for the same
	// file. Open then skips acquiring the lock and Close leaves it held.
	Lock *FileLock

	// Classes configures classes and registers their types before the class
	// collection of the file is read, so that mismatching stored layouts are
	// reported by Open.
	Classes []ClassConfig

	// Types resolves the class names of the file to Go types. DBs opened
	// with the same registry read each other's classes without further
	// configuration. The default is a registry private to the DB.
	Types *TypeRegistry

	// FS provides the interface for persistent file storage.
	//
	// The default value uses the underlying operating system's file system.
	FS vfs.FS

	// Logger used to write log messages.
	//
	// The default logger uses the Go standard library log package.
	Logger Logger

	// EventListener provides hooks to listening to significant DB events such
	// as commits and recovery.
	EventListener *EventListener

	// CommitLatency, if set, observes the duration of every successful
	// commit in seconds.
	CommitLatency prometheus.Histogram

	private struct {
		// testingBeforeWritePointers is invoked during a commit after the
		// transaction log and the header pointers have been synced and before
		// the pointers are written.
		testingBeforeWritePointers func()
	}
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.ActivationDepth <= 0 {
		o.ActivationDepth = defaultActivationDepth
	}
	if o.UpdateDepth <= 0 {
		o.UpdateDepth = defaultUpdateDepth
	}
	if o.MaxStackDepth <= 0 {
		o.MaxStackDepth = defaultMaxStackDepth
	}
	if o.CollectionUpdateDepth <= 0 {
		o.CollectionUpdateDepth = defaultCollectionUpdateDepth
	}
	if o.Types == nil {
		o.Types = NewTypeRegistry()
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger{}
	}
	if o.EventListener == nil {
		o.EventListener = &EventListener{}
	}
	o.EventListener.EnsureDefaults(o.Logger)
	return o
}

// Clone creates a shallow-copy of the supplied options.
func (o *Options) Clone() *Options {
	n := &Options{}
	if o != nil {
		*n = *o
		n.Classes = append([]ClassConfig(nil), o.Classes...)
		if o.EventListener != nil {
			l := *o.EventListener
			n.EventListener = &l
		}
	}
	return n
}

// String returns a textual representation of the options. The result can be
// parsed with Parse.
func (o *Options) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[Options]\n")
	fmt.Fprintf(&buf, "  activation_depth=%d\n", o.ActivationDepth)
	fmt.Fprintf(&buf, "  block_size=%d\n", o.BlockSize)
	fmt.Fprintf(&buf, "  collection_update_depth=%d\n", o.CollectionUpdateDepth)
	fmt.Fprintf(&buf, "  compression=%s\n", o.Compression)
	fmt.Fprintf(&buf, "  disable_file_lock=%t\n", o.DisableFileLock)
	fmt.Fprintf(&buf, "  freespace=%s\n", o.Freespace)
	fmt.Fprintf(&buf, "  max_stack_depth=%d\n", o.MaxStackDepth)
	fmt.Fprintf(&buf, "  read_only=%t\n", o.ReadOnly)
	fmt.Fprintf(&buf, "  update_depth=%d\n", o.UpdateDepth)
	fmt.Fprintf(&buf, "  weak_references=%t\n", o.WeakReferences)
	return buf.String()
}

// parseOptions walks an INI-style options string, invoking fn for every
// key=value pair together with its section.
func parseOptions(s string, fn func(section, key, value string) error) error {
	var section string
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		if len(line) == 0 || line[0] == ';' || line[0] == '#' {
			// Skip blank lines and comments.
			continue
		}
		n := len(line)
		if line[0] == '[' && line[n-1] == ']' {
			section = line[1 : n-1]
			continue
		}
		pos := strings.Index(line, "=")
		if pos < 0 {
			const maxLen = 50
			if len(line) > maxLen {
				line = line[:maxLen-3] + "..."
			}
			return base.CorruptionErrorf("invalid key=value syntax: %q", errors.Safe(line))
		}
		key := strings.TrimSpace(line[:pos])
		value := strings.TrimSpace(line[pos+1:])
		if err := fn(section, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Parse parses the options from the specified string. Options missing from
// the string keep their current values. Unknown options are an error.
func (o *Options) Parse(s string) error {
	return parseOptions(s, func(section, key, value string) error {
		if section != "Options" {
			return errors.Errorf("slotdb: unknown section: %q", errors.Safe(section))
		}
		var err error
		switch key {
		case "activation_depth":
			o.ActivationDepth, err = strconv.Atoi(value)
		case "block_size":
			o.BlockSize, err = strconv.Atoi(value)
		case "collection_update_depth":
			o.CollectionUpdateDepth, err = strconv.Atoi(value)
		case "compression":
			o.Compression, err = compression.ParseAlgorithm(value)
		case "disable_file_lock":
			o.DisableFileLock, err = strconv.ParseBool(value)
		case "freespace":
			o.Freespace, err = freespace.ParseKind(value)
		case "max_stack_depth":
			o.MaxStackDepth, err = strconv.Atoi(value)
		case "read_only":
			o.ReadOnly, err = strconv.ParseBool(value)
		case "update_depth":
			o.UpdateDepth, err = strconv.Atoi(value)
		case "weak_references":
			o.WeakReferences, err = strconv.ParseBool(value)
		default:
			return errors.Errorf("slotdb: unknown option: %s.%s",
				errors.Safe(section), errors.Safe(key))
		}
		if err != nil {
			return errors.Wrapf(err, "slotdb: option %s", errors.Safe(key))
		}
		return nil
	})
}

// Validate verifies that the options are mutually consistent. It presumes
// EnsureDefaults has been called.
func (o *Options) Validate() error {
	var buf strings.Builder
	if o.BlockSize < 1 || o.BlockSize > slot.MaxBlockSize {
		fmt.Fprintf(&buf, "BlockSize (%d) must be between 1 and %d\n", o.BlockSize, slot.MaxBlockSize)
	}
	if !o.Compression.Valid() {
		fmt.Fprintf(&buf, "Compression (%d) is not a known codec\n", o.Compression)
	}
	if o.Freespace != FreespaceRAM && o.Freespace != FreespaceAppend {
		fmt.Fprintf(&buf, "Freespace (%d) is not a known allocator\n", o.Freespace)
	}
	if o.Lock != nil && o.DisableFileLock {
		fmt.Fprintf(&buf, "Lock cannot be combined with DisableFileLock\n")
	}
	for i := range o.Classes {
		if o.Classes[i].Prototype == nil {
			fmt.Fprintf(&buf, "Classes[%d] has no Prototype\n", i)
		}
	}
	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}

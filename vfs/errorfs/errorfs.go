// Copyright 2020 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package errorfs wraps a vfs.FS and injects errors into its operations. It
// is used to exercise the error paths of the commit and recovery protocols.
package errorfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/vfs"
)

// ErrInjected is an error artificially injected for testing fs error paths.
var ErrInjected = errors.New("injected error")

// Op is an enum describing the type of operation.
type Op int

const (
	// OpCreate describes a create file operation.
	OpCreate Op = iota
	// OpOpen describes a file open operation.
	OpOpen
	// OpRemove describes a remove file operation.
	OpRemove
	// OpRename describes a rename operation.
	OpRename
	// OpMkdirAll describes a make directory including parents operation.
	OpMkdirAll
	// OpLock describes a lock file operation.
	OpLock
	// OpList describes a list directory operation.
	OpList
	// OpStat describes a path-based stat operation.
	OpStat
	// OpFileClose describes a close file operation.
	OpFileClose
	// OpFileReadAt describes a file seek read operation.
	OpFileReadAt
	// OpFileWriteAt describes a file seek write operation.
	OpFileWriteAt
	// OpFileStat describes a file stat operation.
	OpFileStat
	// OpFileSync describes a file sync operation.
	OpFileSync
	// OpFileTruncate describes a file truncate operation.
	OpFileTruncate
)

var opNames = [...]string{
	OpCreate:       "create",
	OpOpen:         "open",
	OpRemove:       "remove",
	OpRename:       "rename",
	OpMkdirAll:     "mkdir-all",
	OpLock:         "lock",
	OpList:         "list",
	OpStat:         "stat",
	OpFileClose:    "file-close",
	OpFileReadAt:   "file-read-at",
	OpFileWriteAt:  "file-write-at",
	OpFileStat:     "file-stat",
	OpFileSync:     "file-sync",
	OpFileTruncate: "file-truncate",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// OpKind returns the operation's kind.
func (o Op) OpKind() OpKind {
	switch o {
	case OpOpen, OpList, OpStat, OpFileReadAt, OpFileStat:
		return OpKindRead
	case OpCreate, OpRemove, OpRename, OpMkdirAll, OpLock, OpFileClose, OpFileWriteAt, OpFileSync, OpFileTruncate:
		return OpKindWrite
	default:
		panic(fmt.Sprintf("unrecognized op %v\n", o))
	}
}

// OpKind is an enum describing whether an operation is a read or write
// operation.
type OpKind int

const (
	// OpKindRead describes read operations.
	OpKindRead OpKind = iota
	// OpKindWrite describes write operations.
	OpKindWrite
)

// Injector injects errors into FS operations.
type Injector interface {
	// MaybeError is invoked before an operation is executed. It is passed
	// the operation and the path of the subject file.
	MaybeError(op Op, path string) error
}

// InjectorFunc implements the Injector interface for a function with
// MaybeError's signature.
type InjectorFunc func(Op, string) error

// MaybeError implements the Injector interface.
func (f InjectorFunc) MaybeError(op Op, path string) error { return f(op, path) }

// Always returns an injector that always injects an error.
func Always() Injector {
	return InjectorFunc(func(Op, string) error { return errors.WithStack(ErrInjected) })
}

// OnIndex constructs an injector that returns an error on the (n+1)-th
// invocation of its MaybeError function.
func OnIndex(index int32, next Injector) *InjectIndex {
	ii := &InjectIndex{next: next}
	ii.index.Store(index)
	return ii
}

// InjectIndex implements Injector, injecting an error at a specific index.
type InjectIndex struct {
	index atomic.Int32
	next  Injector
}

// Index returns the number of operations remaining before the error is
// injected. A negative value means the error was injected.
func (ii *InjectIndex) Index() int32 { return ii.index.Load() }

// SetIndex sets the index at which the error will be injected.
func (ii *InjectIndex) SetIndex(v int32) { ii.index.Store(v) }

// MaybeError implements the Injector interface.
func (ii *InjectIndex) MaybeError(op Op, path string) error {
	if ii.index.Add(-1) != -1 {
		return nil
	}
	return ii.next.MaybeError(op, path)
}

// OpKindIs returns an injector that consults next only for operations of
// kind k.
func OpKindIs(k OpKind, next Injector) Injector {
	return InjectorFunc(func(op Op, path string) error {
		if op.OpKind() != k {
			return nil
		}
		return next.MaybeError(op, path)
	})
}

// PathMatch returns an injector that consults next only for paths matching
// pattern (according to filepath.Match).
func PathMatch(pattern string, next Injector) Injector {
	return InjectorFunc(func(op Op, path string) error {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err != nil {
			panic(err)
		}
		if !matched {
			return nil
		}
		return next.MaybeError(op, path)
	})
}

// Toggle wraps an injector so that it can be switched on and off.
type Toggle struct {
	Injector
	on atomic.Bool
}

// On enables error injection.
func (t *Toggle) On() { t.on.Store(true) }

// Off disables error injection.
func (t *Toggle) Off() { t.on.Store(false) }

// MaybeError implements the Injector interface.
func (t *Toggle) MaybeError(op Op, path string) error {
	if !t.on.Load() {
		return nil
	}
	return t.Injector.MaybeError(op, path)
}

// FS implements vfs.FS, injecting errors into the wrapped file system.
type FS struct {
	fs  vfs.FS
	inj Injector
}

var _ vfs.FS = (*FS)(nil)

// Wrap wraps an existing vfs.FS implementation, returning a new vfs.FS
// implementation which consults inj before every operation.
func Wrap(fs vfs.FS, inj Injector) *FS {
	return &FS{fs: fs, inj: inj}
}

func (fs *FS) wrapFile(name string, f vfs.File, err error) (vfs.File, error) {
	if err != nil {
		return nil, err
	}
	return &errorFile{name: name, file: f, inj: fs.inj}, nil
}

// Create implements vfs.FS.
func (fs *FS) Create(name string) (vfs.File, error) {
	if err := fs.inj.MaybeError(OpCreate, name); err != nil {
		return nil, err
	}
	f, err := fs.fs.Create(name)
	return fs.wrapFile(name, f, err)
}

// Open implements vfs.FS.
func (fs *FS) Open(name string) (vfs.File, error) {
	if err := fs.inj.MaybeError(OpOpen, name); err != nil {
		return nil, err
	}
	f, err := fs.fs.Open(name)
	return fs.wrapFile(name, f, err)
}

// OpenReadWrite implements vfs.FS.
func (fs *FS) OpenReadWrite(name string) (vfs.File, error) {
	if err := fs.inj.MaybeError(OpOpen, name); err != nil {
		return nil, err
	}
	f, err := fs.fs.OpenReadWrite(name)
	return fs.wrapFile(name, f, err)
}

// Remove implements vfs.FS.
func (fs *FS) Remove(name string) error {
	if err := fs.inj.MaybeError(OpRemove, name); err != nil {
		return err
	}
	return fs.fs.Remove(name)
}

// Rename implements vfs.FS.
func (fs *FS) Rename(oldname, newname string) error {
	if err := fs.inj.MaybeError(OpRename, oldname); err != nil {
		return err
	}
	return fs.fs.Rename(oldname, newname)
}

// MkdirAll implements vfs.FS.
func (fs *FS) MkdirAll(dir string, perm os.FileMode) error {
	if err := fs.inj.MaybeError(OpMkdirAll, dir); err != nil {
		return err
	}
	return fs.fs.MkdirAll(dir, perm)
}

// Lock implements vfs.FS.
func (fs *FS) Lock(name string) (io.Closer, error) {
	if err := fs.inj.MaybeError(OpLock, name); err != nil {
		return nil, err
	}
	return fs.fs.Lock(name)
}

// List implements vfs.FS.
func (fs *FS) List(dir string) ([]string, error) {
	if err := fs.inj.MaybeError(OpList, dir); err != nil {
		return nil, err
	}
	return fs.fs.List(dir)
}

// Stat implements vfs.FS.
func (fs *FS) Stat(name string) (os.FileInfo, error) {
	if err := fs.inj.MaybeError(OpStat, name); err != nil {
		return nil, err
	}
	return fs.fs.Stat(name)
}

// PathBase implements vfs.FS.
func (fs *FS) PathBase(p string) string { return fs.fs.PathBase(p) }

// PathJoin implements vfs.FS.
func (fs *FS) PathJoin(elem ...string) string { return fs.fs.PathJoin(elem...) }

// PathDir implements vfs.FS.
func (fs *FS) PathDir(p string) string { return fs.fs.PathDir(p) }

type errorFile struct {
	name string
	file vfs.File
	inj  Injector
}

func (f *errorFile) Close() error {
	// Close the underlying file even when injecting, so handles do not leak.
	err := f.inj.MaybeError(OpFileClose, f.name)
	return errors.CombineErrors(err, f.file.Close())
}

func (f *errorFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.inj.MaybeError(OpFileReadAt, f.name); err != nil {
		return 0, err
	}
	return f.file.ReadAt(p, off)
}

func (f *errorFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.inj.MaybeError(OpFileWriteAt, f.name); err != nil {
		return 0, err
	}
	return f.file.WriteAt(p, off)
}

func (f *errorFile) Stat() (os.FileInfo, error) {
	if err := f.inj.MaybeError(OpFileStat, f.name); err != nil {
		return nil, err
	}
	return f.file.Stat()
}

func (f *errorFile) Sync() error {
	if err := f.inj.MaybeError(OpFileSync, f.name); err != nil {
		return err
	}
	return f.file.Sync()
}

func (f *errorFile) Truncate(size int64) error {
	if err := f.inj.MaybeError(OpFileTruncate, f.name); err != nil {
		return err
	}
	return f.file.Truncate(size)
}

// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

const sep = "/"

// NewMem returns a new memory-backed FS implementation.
func NewMem() *MemFS {
	return &MemFS{root: newDirNode()}
}

// NewCrashableMem returns a memory-backed FS implementation that supports
// CrashClone. The clone reflects the file system after a simulated crash:
// synced file data is guaranteed to be present, more recently written data
// may or may not be.
//
// Directory entries are durable as soon as they are created; only file
// contents are subject to loss.
//
// Expected usage:
//
//	fs := vfs.NewCrashableMem()
//	db, _ := slotdb.Open("db", &slotdb.Options{FS: fs})
//	// Store and commit objects.
//	crashed := fs.CrashClone(vfs.CrashCloneCfg{})
//	db.Close()
//	db, _ = slotdb.Open("db", &slotdb.Options{FS: crashed})
func NewCrashableMem() *MemFS {
	return &MemFS{root: newDirNode(), crashable: true}
}

// MemFS implements FS.
type MemFS struct {
	mu   sync.Mutex
	root *memNode

	// cloneMu blocks file modifications while a crash clone is taken.
	cloneMu   sync.RWMutex
	crashable bool

	locked sync.Map
}

var _ FS = (*MemFS)(nil)

// CrashCloneCfg configures a CrashClone call. The zero value produces a
// clone holding exactly the data that was last synced.
type CrashCloneCfg struct {
	// UnsyncedDataPercent is the probability that a block of unsynced data
	// survives the crash.
	UnsyncedDataPercent int
	// RNG must be set if UnsyncedDataPercent > 0.
	RNG *rand.Rand
}

// CrashClone returns a new file system reflecting a possible state of this
// one after a crash at this moment.
func (y *MemFS) CrashClone(cfg CrashCloneCfg) *MemFS {
	if !y.crashable {
		panic("slotdb/vfs: not a crashable MemFS")
	}
	y.cloneMu.Lock()
	defer y.cloneMu.Unlock()
	y.mu.Lock()
	defer y.mu.Unlock()
	return &MemFS{root: y.root.crashClone(&cfg), crashable: true}
}

// String dumps the contents of the MemFS.
func (y *MemFS) String() string {
	y.mu.Lock()
	defer y.mu.Unlock()
	var buf bytes.Buffer
	y.root.dump(&buf, 0, sep)
	return buf.String()
}

// walk resolves the parent directory of fullname and calls f with it and
// the final path fragment. y.mu is held for the duration of f.
func (y *MemFS) walk(fullname string, f func(dir *memNode, frag string) error) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	fullname = strings.TrimLeft(fullname, sep)
	if fullname == "." {
		fullname = ""
	}
	dir := y.root
	for {
		i := strings.Index(fullname, sep)
		if i < 0 {
			return f(dir, fullname)
		}
		frag := fullname[:i]
		fullname = strings.TrimLeft(fullname[i+1:], sep)
		if frag == "." {
			continue
		}
		child := dir.children[frag]
		if child == nil {
			return &os.PathError{Op: "open", Path: frag, Err: oserror.ErrNotExist}
		}
		if !child.isDir {
			return &os.PathError{Op: "open", Path: frag, Err: errors.New("not a directory")}
		}
		dir = child
	}
}

func (y *MemFS) open(fullname string, write, create, truncate bool) (File, error) {
	if create && y.crashable {
		y.cloneMu.RLock()
		defer y.cloneMu.RUnlock()
	}
	var n *memNode
	err := y.walk(fullname, func(dir *memNode, frag string) error {
		if frag == "" {
			n = dir
			return nil
		}
		n = dir.children[frag]
		switch {
		case n == nil && create:
			n = &memNode{modTime: time.Now()}
			dir.children[frag] = n
		case n == nil:
			return &os.PathError{Op: "open", Path: fullname, Err: oserror.ErrNotExist}
		case truncate && !n.isDir:
			n.mu.Lock()
			n.data = n.data[:0]
			n.modTime = time.Now()
			n.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	n.refs.Add(1)
	return &memFile{name: path.Base(fullname), n: n, fs: y, write: write}, nil
}

// Create implements FS.Create.
func (y *MemFS) Create(fullname string) (File, error) {
	return y.open(fullname, true /* write */, true /* create */, true /* truncate */)
}

// Open implements FS.Open.
func (y *MemFS) Open(fullname string) (File, error) {
	return y.open(fullname, false /* write */, false /* create */, false /* truncate */)
}

// OpenReadWrite implements FS.OpenReadWrite.
func (y *MemFS) OpenReadWrite(fullname string) (File, error) {
	return y.open(fullname, true /* write */, true /* create */, false /* truncate */)
}

// Remove implements FS.Remove.
func (y *MemFS) Remove(fullname string) error {
	return y.walk(fullname, func(dir *memNode, frag string) error {
		if frag == "" {
			return errors.New("slotdb/vfs: empty file name")
		}
		child, ok := dir.children[frag]
		if !ok {
			return &os.PathError{Op: "remove", Path: fullname, Err: oserror.ErrNotExist}
		}
		if len(child.children) > 0 {
			return &os.PathError{Op: "remove", Path: fullname, Err: syscall.ENOTEMPTY}
		}
		delete(dir.children, frag)
		return nil
	})
}

// Rename implements FS.Rename.
func (y *MemFS) Rename(oldname, newname string) error {
	var n *memNode
	err := y.walk(oldname, func(dir *memNode, frag string) error {
		if n = dir.children[frag]; n == nil {
			return &os.PathError{Op: "rename", Path: oldname, Err: oserror.ErrNotExist}
		}
		delete(dir.children, frag)
		return nil
	})
	if err != nil {
		return err
	}
	return y.walk(newname, func(dir *memNode, frag string) error {
		if frag == "" {
			return errors.New("slotdb/vfs: empty file name")
		}
		dir.children[frag] = n
		return nil
	})
}

// MkdirAll implements FS.MkdirAll.
func (y *MemFS) MkdirAll(dirname string, perm os.FileMode) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	dir := y.root
	for _, frag := range strings.Split(dirname, sep) {
		if frag == "" || frag == "." {
			continue
		}
		child := dir.children[frag]
		if child == nil {
			child = newDirNode()
			dir.children[frag] = child
		} else if !child.isDir {
			return &os.PathError{Op: "mkdir", Path: dirname, Err: errors.New("not a directory")}
		}
		dir = child
	}
	return nil
}

// Lock implements FS.Lock. Other processes cannot see this memory, but a
// database may be opened twice against the same MemFS within a process.
func (y *MemFS) Lock(fullname string) (io.Closer, error) {
	if _, loaded := y.locked.LoadOrStore(fullname, struct{}{}); loaded {
		return nil, syscall.EAGAIN
	}
	f, err := y.OpenReadWrite(fullname)
	if err != nil {
		y.locked.Delete(fullname)
		return nil, err
	}
	return &memFileLock{fs: y, f: f, name: fullname}, nil
}

// List implements FS.List.
func (y *MemFS) List(dirname string) ([]string, error) {
	var names []string
	err := y.walk(dirname+sep, func(dir *memNode, frag string) error {
		names = slices.Sorted(maps.Keys(dir.children))
		return nil
	})
	return names, err
}

// Stat implements FS.Stat.
func (y *MemFS) Stat(name string) (os.FileInfo, error) {
	f, err := y.Open(name)
	if err != nil {
		if pe, ok := err.(*os.PathError); ok {
			pe.Op = "stat"
		}
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// PathBase implements FS.PathBase.
func (*MemFS) PathBase(p string) string {
	return path.Base(p)
}

// PathJoin implements FS.PathJoin.
func (*MemFS) PathJoin(elem ...string) string {
	return path.Join(elem...)
}

// PathDir implements FS.PathDir.
func (*MemFS) PathDir(p string) string {
	return path.Dir(p)
}

// memNode holds a file's data or a directory's children. Directory children
// are protected by MemFS.mu.
type memNode struct {
	isDir    bool
	refs     atomic.Int32
	children map[string]*memNode

	mu         sync.Mutex
	data       []byte
	syncedData []byte
	modTime    time.Time
}

func newDirNode() *memNode {
	return &memNode{isDir: true, children: make(map[string]*memNode)}
}

func (n *memNode) dump(w *bytes.Buffer, level int, name string) {
	if n.isDir {
		w.WriteString("          ")
	} else {
		n.mu.Lock()
		fmt.Fprintf(w, "%8d  ", len(n.data))
		n.mu.Unlock()
	}
	w.WriteString(strings.Repeat("  ", level))
	w.WriteString(name)
	if n.isDir && level > 0 {
		w.WriteString(sep)
	}
	w.WriteByte('\n')
	for _, name := range slices.Sorted(maps.Keys(n.children)) {
		n.children[name].dump(w, level+1, name)
	}
}

func (n *memNode) crashClone(cfg *CrashCloneCfg) *memNode {
	if n.isDir {
		c := newDirNode()
		for name, child := range n.children {
			c.children[name] = child.crashClone(cfg)
		}
		return c
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	c := &memNode{modTime: n.modTime, data: slices.Clone(n.syncedData)}
	if cfg.UnsyncedDataPercent > 0 {
		const blockSize = 512
		for i := 0; i < len(n.data); i += blockSize {
			if cfg.RNG.IntN(100) >= cfg.UnsyncedDataPercent {
				continue
			}
			block := n.data[i:min(i+blockSize, len(n.data))]
			if grow := i + len(block) - len(c.data); grow > 0 {
				c.data = append(c.data, make([]byte, grow)...)
			}
			copy(c.data[i:], block)
		}
	}
	c.syncedData = slices.Clone(c.data)
	return c
}

// memFile is a handle on a node's data. Implements File.
type memFile struct {
	name  string
	n     *memNode
	fs    *MemFS
	write bool
}

var _ File = (*memFile)(nil)

func (f *memFile) Close() error {
	if n := f.n.refs.Add(-1); n < 0 {
		panic(fmt.Sprintf("slotdb/vfs: close of unopened file: %d", n))
	}
	// Later method calls panic.
	f.n = nil
	return nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if f.n.isDir {
		return 0, errors.New("slotdb/vfs: cannot read a directory")
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if off >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if !f.write {
		return 0, errors.New("slotdb/vfs: file was not opened for writing")
	}
	if f.n.isDir {
		return 0, errors.New("slotdb/vfs: cannot write a directory")
	}
	if f.fs.crashable {
		f.fs.cloneMu.RLock()
		defer f.fs.cloneMu.RUnlock()
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if end := int(off) + len(p); end > len(f.n.data) {
		f.n.data = append(f.n.data, make([]byte, end-len(f.n.data))...)
	}
	copy(f.n.data[off:], p)
	f.n.modTime = time.Now()
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	if !f.write {
		return errors.New("slotdb/vfs: file was not opened for writing")
	}
	if f.fs.crashable {
		f.fs.cloneMu.RLock()
		defer f.fs.cloneMu.RUnlock()
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if int(size) <= len(f.n.data) {
		f.n.data = f.n.data[:size]
	} else {
		f.n.data = append(f.n.data, make([]byte, int(size)-len(f.n.data))...)
	}
	f.n.modTime = time.Now()
	return nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	return &memFileInfo{
		name:    f.name,
		size:    int64(len(f.n.data)),
		modTime: f.n.modTime,
		isDir:   f.n.isDir,
	}, nil
}

func (f *memFile) Sync() error {
	if !f.fs.crashable || f.n.isDir {
		return nil
	}
	f.fs.cloneMu.RLock()
	defer f.fs.cloneMu.RUnlock()
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.syncedData = append(f.n.syncedData[:0], f.n.data...)
	return nil
}

// memFileInfo implements os.FileInfo for a memFile.
type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

var _ os.FileInfo = (*memFileInfo)(nil)

func (f *memFileInfo) Name() string       { return f.name }
func (f *memFileInfo) Size() int64        { return f.size }
func (f *memFileInfo) ModTime() time.Time { return f.modTime }
func (f *memFileInfo) IsDir() bool        { return f.isDir }
func (f *memFileInfo) Sys() any           { return nil }

func (f *memFileInfo) Mode() os.FileMode {
	if f.isDir {
		return os.ModeDir | 0755
	}
	return 0644
}

type memFileLock struct {
	fs   *MemFS
	f    File
	name string
}

func (l *memFileLock) Close() error {
	if l.fs == nil {
		return errors.New("slotdb/vfs: lock already released")
	}
	l.fs.locked.Delete(l.name)
	l.fs = nil
	return l.f.Close()
}

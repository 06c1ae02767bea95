// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/vfs"
)

// AcquireOrValidateFileLock acquires the lock guarding the database file
// name, or validates a pre-acquired FileLock.
func AcquireOrValidateFileLock(preAcquired *FileLock, name string, fs vfs.FS) (*FileLock, error) {
	if preAcquired != nil {
		if preAcquired.name != name {
			return preAcquired, errors.Newf("slotdb: Options.Lock acquired for %q not %q", preAcquired.name, name)
		}
		return preAcquired, preAcquired.refForOpen()
	}
	return LockFile(name, fs)
}

// LockFile acquires the lock file of the named database file, preventing
// another process from opening it. The returned handle may be passed to Open
// through Options.Lock, skipping lock acquisition during Open.
func LockFile(name string, fs vfs.FS) (*FileLock, error) {
	fileLock, err := fs.Lock(vfs.LockPath(fs, name))
	if err != nil {
		return nil, err
	}
	l := &FileLock{name: name, fileLock: fileLock}
	l.refs.Store(1)
	return l, nil
}

// FileLock is a held lock on a database file.
type FileLock struct {
	name     string
	fileLock io.Closer
	// refs is 1 while only the acquirer holds the lock and 2 while a DB
	// opened with it is also using it.
	refs atomic.Int32
}

func (l *FileLock) refForOpen() error {
	if !l.refs.CompareAndSwap(1, 2) {
		return errors.Errorf("slotdb: unexpected %q FileLock reference count; is the lock already in use?", l.name)
	}
	return nil
}

// Refs returns the current reference count.
func (l *FileLock) Refs() int {
	return int(l.refs.Load())
}

// Close releases the lock, permitting another process to lock and open the
// database. A caller that acquired the lock with LockFile must not call Close
// before the DB using it has been closed.
func (l *FileLock) Close() error {
	v := l.refs.Add(-1)
	if v > 0 {
		return nil
	} else if v < 0 {
		return errors.AssertionFailedf("slotdb: unexpected %q FileLock reference count %d", l.name, v)
	}
	defer func() { l.fileLock = nil }()
	return l.fileLock.Close()
}

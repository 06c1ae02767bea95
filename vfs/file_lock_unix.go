// Copyright 2014 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package vfs

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

var lockedFiles struct {
	mu sync.Mutex
	m  map[string]struct{}
}

// lockCloser hides all of an os.File's methods, except for Close.
type lockCloser struct {
	name string
	f    *os.File
}

func (l lockCloser) Close() error {
	lockedFiles.mu.Lock()
	defer lockedFiles.mu.Unlock()
	if _, ok := lockedFiles.m[l.name]; !ok {
		return errors.Errorf("slotdb/vfs: %s is not locked", l.name)
	}
	delete(lockedFiles.m, l.name)
	return l.f.Close()
}

func (defaultFS) Lock(name string) (io.Closer, error) {
	absName, err := filepath.Abs(name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	lockedFiles.mu.Lock()
	defer lockedFiles.mu.Unlock()
	if lockedFiles.m == nil {
		lockedFiles.m = make(map[string]struct{})
	}
	// fcntl locks are per process, so a second lock from this process would
	// succeed silently.
	if _, ok := lockedFiles.m[absName]; ok {
		return nil, errors.Errorf("slotdb/vfs: lock on %s held by current process", name)
	}

	f, err := os.Create(name)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	spec := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: io.SeekStart,
		Start:  0,
		Len:    0, // 0 means to lock the entire file.
	}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &spec); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "slotdb/vfs: lock %s", name)
	}
	lockedFiles.m[absName] = struct{}{}
	return lockCloser{name: absName, f: f}, nil
}
